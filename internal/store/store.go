package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateDeposit       = errors.New("deposit already exists")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrInvalidTransition      = errors.New("invalid deposit status transition")
	ErrUnsupportedCurrency    = errors.New("unsupported currency")
	ErrInsufficientFunds      = errors.New("insufficient funds")
)

// InsufficientFundsError is returned by Debit when the balance cannot cover the amount.
// It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	UserId    string
	Token     models.Stablecoin
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance for user %s: available %s, requested %s",
		e.Token, e.UserId, e.Available.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// DepositFilter narrows ListDeposits. Zero values match everything.
type DepositFilter struct {
	UserId        string
	Status        models.DepositStatus
	UpdatedBefore time.Time
	Limit         int
}

// TransitionParams describes a compare-and-set move of a deposit's status.
type TransitionParams struct {
	DepositId    string
	From         models.DepositStatus
	To           models.DepositStatus
	LastError    string
	CountAttempt bool
	TransitionAt time.Time
}

// DepositStore holds deposits and the FX trades and mint jobs derived from them.
type DepositStore interface {
	CreateDeposit(ctx context.Context, deposit *models.Deposit) error
	GetDeposit(ctx context.Context, depositId string) (*models.Deposit, error)
	TransitionDeposit(ctx context.Context, params TransitionParams) (*models.Deposit, error)
	ListDeposits(ctx context.Context, filter DepositFilter) ([]models.Deposit, error)

	SaveFxTrade(ctx context.Context, trade *models.FxTrade) error
	GetFxTrade(ctx context.Context, depositId string) (*models.FxTrade, error)

	SaveMintJob(ctx context.Context, job *models.MintJob) error
	GetMintJob(ctx context.Context, depositId string) (*models.MintJob, error)
	DeleteMintJob(ctx context.Context, depositId string) error

	Close()
}

// Ledger is the system of record for stablecoin balances.
// Credit and Debit append exactly one journal entry per successful call.
type Ledger interface {
	Credit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error)
	Debit(ctx context.Context, userId string, token models.Stablecoin, amount decimal.Decimal, meta models.EntryMetadata) (*models.JournalEntry, error)
	GetBalance(ctx context.Context, userId string) (*models.Balance, error)
	GetJournal(ctx context.Context, userId string) ([]models.JournalEntry, error)
	GetSystemTotals(ctx context.Context) (map[models.Stablecoin]decimal.Decimal, error)

	Close()
}

// ValidateEntry checks the arguments shared by Credit and Debit.
func ValidateEntry(userId string, token models.Stablecoin, amount decimal.Decimal) error {
	if userId == "" {
		return fmt.Errorf("user id is required")
	}
	if !token.IsValid() {
		return fmt.Errorf("%w: token %q", ErrUnsupportedCurrency, token)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	return nil
}

// CheckTransition validates a status move before a backend persists it.
func CheckTransition(current *models.Deposit, params TransitionParams) error {
	if current.Status != params.From {
		return fmt.Errorf("%w: deposit %s is %s, expected %s",
			ErrConcurrentModification, current.Id, current.Status, params.From)
	}
	if !params.From.CanTransitionTo(params.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, params.From, params.To)
	}
	return nil
}
