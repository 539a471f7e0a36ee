package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type account struct {
	mu      sync.Mutex
	balance models.Balance
	journal []models.JournalEntry
}

// Ledger is an in-memory store.Ledger. Mutations for one user are serialized
// by that user's lock; different users proceed in parallel.
type Ledger struct {
	mu         sync.Mutex
	accounts   map[string]*account
	references map[string]struct{}
	now        func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:   make(map[string]*account),
		references: make(map[string]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) account(userId string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[userId]
	if !ok {
		acc = &account{balance: models.Balance{UserId: userId, USDC: decimal.Zero, EURC: decimal.Zero}}
		l.accounts[userId] = acc
	}
	return acc
}

func (l *Ledger) lookup(userId string) (*account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[userId]
	return acc, ok
}

func (l *Ledger) reserve(reference string) bool {
	if reference == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.references[reference]; ok {
		return false
	}
	l.references[reference] = struct{}{}
	return true
}

func (l *Ledger) unreserve(reference string) {
	if reference == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.references, reference)
}

func (l *Ledger) Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return l.apply(ctx, models.EntryCredit, userId, token, amount, meta)
}

func (l *Ledger) Debit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	return l.apply(ctx, models.EntryDebit, userId, token, amount, meta)
}

func (l *Ledger) apply(_ context.Context, entryType models.EntryType, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error) {
	if err := store.ValidateEntry(userId, token, amount); err != nil {
		return nil, err
	}

	acc := l.account(userId)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if !l.reserve(meta.Reference) {
		return nil, fmt.Errorf("%w: reference %s already exists", store.ErrDuplicateTransaction, meta.Reference)
	}

	current := acc.balance.Of(token)
	next := current.Add(amount)
	if entryType == models.EntryDebit {
		if current.LessThan(amount) {
			l.unreserve(meta.Reference)
			return nil, &store.InsufficientFundsError{UserId: userId, Token: token, Available: current, Requested: amount}
		}
		next = current.Sub(amount)
	}

	now := l.now()
	entry := models.JournalEntry{
		Id:           ulid.Make().String(),
		Timestamp:    now,
		Type:         entryType,
		UserId:       userId,
		Token:        token,
		Amount:       amount,
		BalanceAfter: next,
		Metadata:     meta,
	}

	acc.journal = append(acc.journal, entry)
	acc.balance.Set(token, next)
	acc.balance.LastUpdated = now

	return &entry, nil
}

func (l *Ledger) GetBalance(_ context.Context, userId string) (*models.Balance, error) {
	acc, ok := l.lookup(userId)
	if !ok {
		return &models.Balance{UserId: userId, USDC: decimal.Zero, EURC: decimal.Zero}, nil
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	balance := acc.balance
	return &balance, nil
}

func (l *Ledger) GetJournal(_ context.Context, userId string) ([]models.JournalEntry, error) {
	acc, ok := l.lookup(userId)
	if !ok {
		return []models.JournalEntry{}, nil
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()

	journal := make([]models.JournalEntry, len(acc.journal))
	copy(journal, acc.journal)
	return journal, nil
}

func (l *Ledger) GetSystemTotals(_ context.Context) (map[models.Stablecoin]decimal.Decimal, error) {
	l.mu.Lock()
	accounts := make([]*account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		accounts = append(accounts, acc)
	}
	l.mu.Unlock()

	totals := make(map[models.Stablecoin]decimal.Decimal, len(models.Stablecoins))
	for _, token := range models.Stablecoins {
		totals[token] = decimal.Zero
	}
	for _, acc := range accounts {
		acc.mu.Lock()
		for _, token := range models.Stablecoins {
			totals[token] = totals[token].Add(acc.balance.Of(token))
		}
		acc.mu.Unlock()
	}
	return totals, nil
}

func (l *Ledger) Close() {}
