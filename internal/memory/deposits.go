package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"
)

// DepositStore keeps deposits, FX trades and mint jobs in process memory
type DepositStore struct {
	mu       sync.RWMutex
	deposits map[string]*models.Deposit
	fxTrades map[string]*models.FxTrade
	mintJobs map[string]*models.MintJob
	now      func() time.Time
}

func NewDepositStore() *DepositStore {
	return &DepositStore{
		deposits: make(map[string]*models.Deposit),
		fxTrades: make(map[string]*models.FxTrade),
		mintJobs: make(map[string]*models.MintJob),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *DepositStore) CreateDeposit(_ context.Context, deposit *models.Deposit) error {
	if deposit.Id == "" {
		return fmt.Errorf("deposit id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[deposit.Id]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateDeposit, deposit.Id)
	}

	now := s.now()
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = now
	}
	if deposit.UpdatedAt.IsZero() {
		deposit.UpdatedAt = deposit.CreatedAt
	}
	if deposit.Status == "" {
		deposit.Status = models.DepositPending
	}

	stored := *deposit
	s.deposits[deposit.Id] = &stored
	return nil
}

func (s *DepositStore) GetDeposit(_ context.Context, depositId string) (*models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deposits[depositId]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", depositId, store.ErrNotFound)
	}
	copied := *d
	return &copied, nil
}

func (s *DepositStore) TransitionDeposit(_ context.Context, params store.TransitionParams) (*models.Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deposits[params.DepositId]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", params.DepositId, store.ErrNotFound)
	}
	if err := store.CheckTransition(d, params); err != nil {
		return nil, err
	}

	at := params.TransitionAt
	if at.IsZero() {
		at = s.now()
	}
	d.Status = params.To
	d.LastError = params.LastError
	if params.CountAttempt {
		d.Attempts++
	}
	d.UpdatedAt = at

	copied := *d
	return &copied, nil
}

func (s *DepositStore) ListDeposits(_ context.Context, filter store.DepositFilter) ([]models.Deposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Deposit, 0)
	for _, d := range s.deposits {
		if filter.UserId != "" && d.UserId != filter.UserId {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !d.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		result = append(result, *d)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Id > result[j].Id
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *DepositStore) SaveFxTrade(_ context.Context, trade *models.FxTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[trade.DepositId]; !ok {
		return fmt.Errorf("deposit %s: %w", trade.DepositId, store.ErrNotFound)
	}
	now := s.now()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now

	stored := *trade
	s.fxTrades[trade.DepositId] = &stored
	return nil
}

func (s *DepositStore) GetFxTrade(_ context.Context, depositId string) (*models.FxTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.fxTrades[depositId]
	if !ok {
		return nil, fmt.Errorf("fx trade for deposit %s: %w", depositId, store.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (s *DepositStore) SaveMintJob(_ context.Context, job *models.MintJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deposits[job.DepositId]; !ok {
		return fmt.Errorf("deposit %s: %w", job.DepositId, store.ErrNotFound)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	stored := *job
	s.mintJobs[job.DepositId] = &stored
	return nil
}

func (s *DepositStore) GetMintJob(_ context.Context, depositId string) (*models.MintJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.mintJobs[depositId]
	if !ok {
		return nil, fmt.Errorf("mint job for deposit %s: %w", depositId, store.ErrNotFound)
	}
	copied := *j
	return &copied, nil
}

func (s *DepositStore) DeleteMintJob(_ context.Context, depositId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mintJobs, depositId)
	return nil
}

func (s *DepositStore) Close() {}
