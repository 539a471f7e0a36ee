package mint

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/retry"

	"github.com/shopspring/decimal"
)

const SimulatedIdPrefix = "sim_"

// Simulator is an in-process Backend that settles every transfer after a short delay
type Simulator struct {
	delay time.Duration

	mu        sync.Mutex
	transfers map[string]*models.MintResult
}

func NewSimulator(delay time.Duration) *Simulator {
	return &Simulator{
		delay:     delay,
		transfers: make(map[string]*models.MintResult),
	}
}

func (s *Simulator) Name() string {
	return "simulator"
}

// IsSimulatedId reports whether a transfer id was issued by a Simulator
func IsSimulatedId(providerTxId string) bool {
	return strings.HasPrefix(providerTxId, SimulatedIdPrefix)
}

func (s *Simulator) CreateTransfer(ctx context.Context, token models.Stablecoin, amount decimal.Decimal, idempotencyKey string) (*models.MintResult, error) {
	if err := retry.Wait(ctx, s.delay); err != nil {
		return nil, err
	}

	id := fmt.Sprintf("%s%s_%s", SimulatedIdPrefix, strings.ToLower(string(token)), idempotencyKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.transfers[id]; ok {
		result := *existing
		return &result, nil
	}
	result := &models.MintResult{ProviderTxId: id, Status: models.MintComplete}
	s.transfers[id] = result
	copied := *result
	return &copied, nil
}

func (s *Simulator) TransferStatus(ctx context.Context, providerTxId string) (*models.Settlement, error) {
	s.mu.Lock()
	_, ok := s.transfers[providerTxId]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, providerTxId)
	}
	if err := retry.Wait(ctx, s.delay); err != nil {
		return nil, err
	}
	return &models.Settlement{ProviderTxId: providerTxId, Status: models.MintComplete}, nil
}

func (s *Simulator) Balances(context.Context) (models.TreasuryBalances, error) {
	return models.TreasuryBalances{
		"USD":  decimal.NewFromInt(10000),
		"EUR":  decimal.NewFromInt(8000),
		"USDC": decimal.NewFromInt(5000),
		"EURC": decimal.NewFromInt(4000),
	}, nil
}

// Transfers returns the number of distinct transfers created
func (s *Simulator) Transfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}
