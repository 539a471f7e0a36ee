package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	FiatPlaces  int32 = 2
	TokenPlaces int32 = 6
)

// RoundFiat rounds half-even to cents
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(FiatPlaces)
}

// RoundToken rounds half-even to the stablecoin precision
func RoundToken(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(TokenPlaces)
}

// ParseAmount parses a strictly positive decimal amount
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive, got %s", amount.String())
	}
	return amount, nil
}
