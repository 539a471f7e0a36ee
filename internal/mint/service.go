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

package mint

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/retry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPollAttempts = 30
	DefaultPollInterval = time.Second
)

// Options configure a Service
type Options struct {
	Simulate     bool
	PollAttempts int
	PollInterval time.Duration
	ApiKey       string
	BaseURL      string
}

// Service implements Provider on top of a live Backend and a Simulator.
// The simulate flag can be flipped at runtime; settlement is always polled on
// the backend that issued the transfer.
type Service struct {
	backend   Backend
	simulator *Simulator
	simulate  atomic.Bool
	policy    retry.Policy
	apiKey    string
	baseURL   string
}

// NewService creates a mint service. backend may be nil when only simulation is available.
func NewService(backend Backend, simulator *Simulator, opts Options) *Service {
	if simulator == nil {
		simulator = NewSimulator(0)
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultPollAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	s := &Service{
		backend:   backend,
		simulator: simulator,
		policy: retry.Policy{
			MaxAttempts: opts.PollAttempts,
			Backoff:     retry.Fixed(opts.PollInterval),
		},
		apiKey:  opts.ApiKey,
		baseURL: opts.BaseURL,
	}
	s.simulate.Store(opts.Simulate || backend == nil)
	return s
}

// SimulateMode reports whether new transfers are simulated
func (s *Service) SimulateMode() bool {
	return s.simulate.Load()
}

// SetSimulateMode switches between simulated and live minting without a restart
func (s *Service) SetSimulateMode(simulate bool) error {
	if !simulate && s.backend == nil {
		return ErrBackendUnavailable
	}
	previous := s.simulate.Swap(simulate)
	if previous != simulate {
		zap.L().Warn("Mint simulate mode changed",
			zap.Bool("previous", previous),
			zap.Bool("simulate", simulate))
	}
	return nil
}

// Diagnostics describes the current configuration with the api key redacted
func (s *Service) Diagnostics() models.MintDiagnostics {
	backend := s.simulator.Name()
	if s.backend != nil {
		backend = s.backend.Name()
	}
	return models.MintDiagnostics{
		Backend:       backend,
		Simulate:      s.SimulateMode(),
		ApiKeyPreview: ApiKeyPreview(s.apiKey),
		BaseURL:       s.baseURL,
	}
}

func (s *Service) active() Backend {
	if s.SimulateMode() {
		return s.simulator
	}
	return s.backend
}

func (s *Service) owner(providerTxId string) (Backend, error) {
	if IsSimulatedId(providerTxId) {
		return s.simulator, nil
	}
	if s.backend == nil {
		return nil, fmt.Errorf("%w: cannot settle %s", ErrBackendUnavailable, providerTxId)
	}
	return s.backend, nil
}

func (s *Service) Mint(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error) {
	if !token.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, token)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("mint amount must be positive, got %s", amount.String())
	}
	if idempotencyKey == "" {
		return nil, errors.New("mint idempotency key is required")
	}

	backend := s.active()
	zap.L().Info("Minting stablecoin",
		zap.String("backend", backend.Name()),
		zap.String("token", string(token)),
		zap.String("amount", amount.String()),
		zap.String("idempotency_key", idempotencyKey))

	result, err := backend.CreateTransfer(ctx, token, amount, idempotencyKey)
	if err != nil {
		mintRequestsTotal.WithLabelValues(backend.Name(), "error").Inc()
		return nil, fmt.Errorf("%s mint failed: %w", token, err)
	}
	mintRequestsTotal.WithLabelValues(backend.Name(), string(result.Status)).Inc()

	zap.L().Info("Mint transfer created",
		zap.String("backend", backend.Name()),
		zap.String("provider_tx_id", result.ProviderTxId),
		zap.String("status", string(result.Status)))

	return result, nil
}

func (s *Service) WaitUntilSettled(ctx context.Context, providerTxId string) (*models.Settlement, error) {
	backend, err := s.owner(providerTxId)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var settlement *models.Settlement
	attempts, err := retry.Poll(ctx, s.policy, func(ctx context.Context, attempt int) (bool, error) {
		status, err := backend.TransferStatus(ctx, providerTxId)
		if err != nil {
			if errors.Is(err, ErrUnknownTransfer) || ctx.Err() != nil {
				return false, err
			}
			zap.L().Warn("Mint status poll failed",
				zap.String("provider_tx_id", providerTxId),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return false, nil
		}

		zap.L().Debug("Mint transfer status",
			zap.String("provider_tx_id", providerTxId),
			zap.String("status", string(status.Status)),
			zap.Int("attempt", attempt))

		switch status.Status {
		case models.MintComplete, models.MintFailed:
			settlement = status
			return true, nil
		}
		return false, nil
	})
	mintSettlementDuration.WithLabelValues(backend.Name()).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, retry.ErrAttemptsExhausted) {
			mintSettlementsTotal.WithLabelValues(backend.Name(), "timeout").Inc()
			return nil, fmt.Errorf("%w: %s still pending after %d polls", ErrMintTimeout, providerTxId, attempts)
		}
		return nil, fmt.Errorf("failed to check transfer status: %w", err)
	}

	mintSettlementsTotal.WithLabelValues(backend.Name(), string(settlement.Status)).Inc()
	if settlement.Status == models.MintFailed {
		reason := settlement.FailureReason
		if reason == "" {
			reason = "unknown error"
		}
		return settlement, fmt.Errorf("%w: %s", ErrMintFailed, reason)
	}
	return settlement, nil
}

// TreasuryBalances returns the funds held at the active backend
func (s *Service) TreasuryBalances(ctx context.Context) (models.TreasuryBalances, error) {
	return s.active().Balances(ctx)
}
