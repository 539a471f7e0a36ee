/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"deposit-convert-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	fxTimeout, err := getEnvDuration("FX_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	quoteTTL, err := getEnvDuration("FX_QUOTE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	mintTimeout, err := getEnvDuration("MINT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("MINT_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}

	simulateDelay, err := getEnvDuration("MINT_SIMULATE_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}

	idempotencyTTL, err := getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getEnvDuration("SWEEPER_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pendingGrace, err := getEnvDuration("SWEEPER_PENDING_GRACE", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	backoffInitial, err := getEnvDuration("SWEEPER_BACKOFF_INITIAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	backoffMax, err := getEnvDuration("SWEEPER_BACKOFF_MAX", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	cleanupInterval, err := getEnvDuration("SWEEPER_CLEANUP_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "deposits.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Storage: models.StorageConfig{
			DepositBackend: getEnvString("STORE_BACKEND", "memory"),
			LedgerBackend:  getEnvString("LEDGER_BACKEND", "memory"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "deposit-convert"),
		},
		Fx: models.FxConfig{
			PartnerBaseURL: getEnvString("FX_PARTNER_BASE_URL", ""),
			ApiKey:         getEnvString("FX_API_KEY", ""),
			Timeout:        fxTimeout,
			QuoteTTL:       quoteTTL,
			RatesFile:      getEnvString("FX_RATES_FILE", ""),
		},
		Mint: models.MintConfig{
			Backend:       getEnvString("MINT_BACKEND", "circle"),
			Simulate:      getEnvBool("CIRCLE_SANDBOX", true),
			ApiKey:        getEnvString("CIRCLE_API_KEY", ""),
			BaseURL:       getEnvString("CIRCLE_BASE_URL", "https://api.circle.com/v1"),
			Timeout:       mintTimeout,
			PollAttempts:  getEnvInt("MINT_POLL_ATTEMPTS", 30),
			PollInterval:  pollInterval,
			SimulateDelay: simulateDelay,
			Treasury: map[models.Stablecoin]string{
				models.USDC: getEnvString("CIRCLE_TREASURY_USDC_ADDRESS", ""),
				models.EURC: getEnvString("CIRCLE_TREASURY_EURC_ADDRESS", ""),
			},
		},
		Prime: models.PrimeConfig{
			AccessKey:    getEnvString("PRIME_ACCESS_KEY", ""),
			Passphrase:   getEnvString("PRIME_PASSPHRASE", ""),
			SigningKey:   getEnvString("PRIME_SIGNING_KEY", ""),
			PortfolioId:  getEnvString("PRIME_PORTFOLIO_ID", ""),
			UsdWalletId:  getEnvString("PRIME_USD_WALLET_ID", ""),
			UsdcWalletId: getEnvString("PRIME_USDC_WALLET_ID", ""),
		},
		Idempotency: models.IdempotencyConfig{
			Backend:       getEnvString("IDEMPOTENCY_BACKEND", "memory"),
			TTL:           idempotencyTTL,
			MaxKeys:       getEnvInt("IDEMPOTENCY_MAX_KEYS", 10000),
			RedisAddr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
		},
		Events: models.EventsConfig{
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			KafkaTopic:   getEnvString("KAFKA_TOPIC", "deposit-conversions"),
		},
		Sweeper: models.SweeperConfig{
			Enabled:         getEnvBool("SWEEPER_ENABLED", true),
			PollingInterval: sweepInterval,
			PendingGrace:    pendingGrace,
			RetryFailed:     getEnvBool("SWEEPER_RETRY_FAILED", false),
			MaxAttempts:     getEnvInt("SWEEPER_MAX_ATTEMPTS", 5),
			BackoffInitial:  backoffInitial,
			BackoffMax:      backoffMax,
			CleanupInterval: cleanupInterval,
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("HTTP_ADDR", ":"+getEnvString("PORT", "4000")),
			ShutdownTimeout: shutdownTimeout,
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var items []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
