package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"deposit-convert-go/internal/api"
	"deposit-convert-go/internal/conversion"
	"deposit-convert-go/internal/database"
	"deposit-convert-go/internal/events"
	"deposit-convert-go/internal/formance"
	"deposit-convert-go/internal/fx"
	"deposit-convert-go/internal/idempotency"
	"deposit-convert-go/internal/memory"
	"deposit-convert-go/internal/mint"
	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/prime"
	"deposit-convert-go/internal/store"
	"deposit-convert-go/internal/transport"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	BackendMemory   = "memory"
	BackendSqlite   = "sqlite"
	BackendFormance = "formance"
	BackendRedis    = "redis"
	BackendCircle   = "circle"
	BackendPrime    = "prime"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Stores holds the persistence backends selected by configuration
type Stores struct {
	Deposits store.DepositStore
	Ledger   store.Ledger

	// set when both backends share one SQLite handle
	db *database.Service
}

// Close releases both backends, closing a shared SQLite handle once
func (s *Stores) Close() {
	if s.Ledger != nil && s.Ledger != store.Ledger(s.db) {
		s.Ledger.Close()
	}
	if s.Deposits != nil && s.Deposits != store.DepositStore(s.db) {
		s.Deposits.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

type Services struct {
	*Stores
	Quotes        *fx.QuoteService
	Minter        *mint.Service
	Guard         idempotency.Claimer
	Publisher     events.Publisher
	Orchestrator  *conversion.Orchestrator
	LedgerService *api.LedgerService

	closers []func()
}

func InitializeLogger(level string) (*zap.Logger, func()) {
	var logger *zap.Logger
	var err error
	if strings.EqualFold(level, "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires every component selected by cfg into a ready orchestrator
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	stores, err := InitializeStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	services := &Services{Stores: stores}

	services.Quotes, err = InitializeQuotes(cfg.Fx)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Minter, err = initializeMinter(ctx, cfg)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Guard, err = initializeGuard(ctx, cfg.Idempotency, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	services.Publisher = events.NewPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
	services.closers = append(services.closers, func() {
		if err := services.Publisher.Close(); err != nil {
			zap.L().Warn("Failed to close event publisher", zap.Error(err))
		}
	})

	services.Orchestrator = conversion.NewOrchestrator(
		stores.Deposits, stores.Ledger, services.Quotes, services.Minter, services.Guard, services.Publisher)
	services.LedgerService = api.NewLedgerService(stores.Ledger, stores.Deposits)

	zap.L().Info("Services initialized",
		zap.String("deposit_backend", cfg.Storage.DepositBackend),
		zap.String("ledger_backend", cfg.Storage.LedgerBackend),
		zap.String("idempotency_backend", cfg.Idempotency.Backend),
		zap.String("mint_backend", services.Minter.Diagnostics().Backend),
		zap.Bool("mint_simulate", services.Minter.SimulateMode()))

	return services, nil
}

// InitializeStores opens only the deposit store and ledger.
// Useful for read-only operations like querying balances.
func InitializeStores(ctx context.Context, cfg *models.Config) (*Stores, error) {
	stores := &Stores{}

	openSqlite := func() (*database.Service, error) {
		if stores.db == nil {
			db, err := database.NewService(ctx, cfg.Database)
			if err != nil {
				return nil, err
			}
			stores.db = db
		}
		return stores.db, nil
	}

	switch cfg.Storage.DepositBackend {
	case BackendMemory:
		stores.Deposits = memory.NewDepositStore()
	case BackendSqlite:
		db, err := openSqlite()
		if err != nil {
			return nil, err
		}
		stores.Deposits = db
	default:
		return nil, fmt.Errorf("unknown deposit backend %q", cfg.Storage.DepositBackend)
	}

	switch cfg.Storage.LedgerBackend {
	case BackendMemory:
		stores.Ledger = memory.NewLedger()
	case BackendSqlite:
		db, err := openSqlite()
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.Ledger = db
	case BackendFormance:
		ledger, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			stores.Close()
			return nil, err
		}
		stores.Ledger = ledger
	default:
		stores.Close()
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Storage.LedgerBackend)
	}

	return stores, nil
}

// InitializeQuotes builds the quote service on the partner, if configured, and the rate table
func InitializeQuotes(cfg models.FxConfig) (*fx.QuoteService, error) {
	rates := fx.DefaultRates()
	if cfg.RatesFile != "" {
		overrides, err := LoadRateTable(cfg.RatesFile)
		if err != nil {
			return nil, err
		}
		rates = rates.With(overrides)
		zap.L().Info("Loaded simulated FX rates", zap.String("file", cfg.RatesFile), zap.Int("pairs", len(overrides)))
	}

	var partner fx.Source
	if cfg.PartnerBaseURL != "" {
		httpClient, err := transport.NewHttpClient(cfg.Timeout)
		if err != nil {
			return nil, err
		}
		partner = fx.NewPartnerClient(cfg.PartnerBaseURL, cfg.ApiKey, &httpClient)
	} else {
		zap.L().Warn("No FX partner configured, quotes will use simulated rates")
	}

	return fx.NewQuoteService(partner, rates, cfg.QuoteTTL), nil
}

func initializeMinter(ctx context.Context, cfg *models.Config) (*mint.Service, error) {
	simulator := mint.NewSimulator(cfg.Mint.SimulateDelay)

	var backend mint.Backend
	switch cfg.Mint.Backend {
	case BackendCircle:
		if cfg.Mint.ApiKey != "" {
			httpClient, err := transport.NewHttpClient(cfg.Mint.Timeout)
			if err != nil {
				return nil, err
			}
			backend = mint.NewCircleClient(cfg.Mint.ApiKey, cfg.Mint.BaseURL, cfg.Mint.Treasury, &httpClient)
		}
	case BackendPrime:
		zap.L().Info("Loading Prime API credentials")
		creds, err := loadPrimeCredentials(cfg.Prime)
		if err != nil {
			return nil, err
		}
		httpClient, err := transport.NewHttpClient(cfg.Mint.Timeout)
		if err != nil {
			return nil, err
		}
		primeSvc := prime.NewService(creds, cfg.Prime, httpClient)
		if err := primeSvc.Discover(ctx); err != nil {
			return nil, fmt.Errorf("failed to resolve prime wallets: %w", err)
		}
		backend = primeSvc
	default:
		return nil, fmt.Errorf("unknown mint backend %q", cfg.Mint.Backend)
	}

	if backend == nil {
		zap.L().Warn("No live mint backend configured, minting is simulated",
			zap.String("backend", cfg.Mint.Backend))
	}

	return mint.NewService(backend, simulator, mint.Options{
		Simulate:     cfg.Mint.Simulate,
		PollAttempts: cfg.Mint.PollAttempts,
		PollInterval: cfg.Mint.PollInterval,
		ApiKey:       cfg.Mint.ApiKey,
		BaseURL:      cfg.Mint.BaseURL,
	}), nil
}

func initializeGuard(ctx context.Context, cfg models.IdempotencyConfig, services *Services) (idempotency.Claimer, error) {
	switch cfg.Backend {
	case BackendMemory:
		guard := idempotency.NewGuard(cfg.TTL, cfg.MaxKeys)
		cleanupCtx, cancel := context.WithCancel(context.Background())
		guard.StartCleanup(cleanupCtx, cfg.TTL/4)
		services.closers = append(services.closers, cancel)
		return guard, nil
	case BackendRedis:
		client, err := idempotency.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		guard := idempotency.NewRedisGuard(client, cfg.TTL)
		services.closers = append(services.closers, func() {
			if err := guard.Close(); err != nil {
				zap.L().Warn("Failed to close redis client", zap.Error(err))
			}
		})
		return guard, nil
	}
	return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Backend)
}

func (cs *Services) Close() {
	for i := len(cs.closers) - 1; i >= 0; i-- {
		cs.closers[i]()
	}
	if cs.Stores != nil {
		cs.Stores.Close()
	}
}

func loadPrimeCredentials(cfg models.PrimeConfig) (*credentials.Credentials, error) {
	if cfg.AccessKey == "" || cfg.Passphrase == "" || cfg.SigningKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  cfg.AccessKey,
		Passphrase: cfg.Passphrase,
		SigningKey: cfg.SigningKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
