package store

import (
	"errors"
	"fmt"
	"testing"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestInsufficientFundsError_Is(t *testing.T) {
	err := fmt.Errorf("debit failed: %w", &InsufficientFundsError{
		UserId:    "user1",
		Token:     models.USDC,
		Available: decimal.NewFromInt(20),
		Requested: decimal.NewFromInt(50),
	})

	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatal("Expected wrapped error to match ErrInsufficientFunds")
	}

	var ife *InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatal("Expected errors.As to find InsufficientFundsError")
	}
	if !ife.Available.Equal(decimal.NewFromInt(20)) || !ife.Requested.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Unexpected amounts: available %s, requested %s", ife.Available, ife.Requested)
	}
}

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name    string
		userId  string
		token   models.Stablecoin
		amount  decimal.Decimal
		wantErr bool
	}{
		{"valid", "user1", models.USDC, decimal.NewFromInt(1), false},
		{"missing user", "", models.USDC, decimal.NewFromInt(1), true},
		{"unknown token", "user1", models.Stablecoin("DOGE"), decimal.NewFromInt(1), true},
		{"zero amount", "user1", models.EURC, decimal.Zero, true},
		{"negative amount", "user1", models.EURC, decimal.NewFromInt(-5), true},
	}
	for _, tt := range tests {
		err := ValidateEntry(tt.userId, tt.token, tt.amount)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidateEntry() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	deposit := &models.Deposit{Id: "dep1", Status: models.DepositConverted}

	err := CheckTransition(deposit, TransitionParams{From: models.DepositConverted, To: models.DepositProcessing})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition leaving converted, got %v", err)
	}

	err = CheckTransition(deposit, TransitionParams{From: models.DepositFailed, To: models.DepositProcessing})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification on stale status, got %v", err)
	}

	deposit.Status = models.DepositFailed
	if err := CheckTransition(deposit, TransitionParams{From: models.DepositFailed, To: models.DepositProcessing}); err != nil {
		t.Errorf("Expected failed -> processing to be allowed, got %v", err)
	}
}
