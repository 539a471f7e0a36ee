package fx

import (
	"fmt"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

// Pair is an ordered currency pair
type Pair struct {
	From models.FiatCurrency
	To   models.FiatCurrency
}

func (p Pair) String() string {
	return fmt.Sprintf("%s-%s", p.From, p.To)
}

// Rate is a mid rate (units of From per one unit of To) plus the spread charged on top of it
type Rate struct {
	Mid       decimal.Decimal
	SpreadBps int
}

// RateTable holds the deterministic rates used when no partner quote is available
type RateTable map[Pair]Rate

// DefaultRates returns the built-in simulated rate table
func DefaultRates() RateTable {
	return RateTable{
		{models.GHS, models.USD}: {Mid: decimal.RequireFromString("15.0"), SpreadBps: 40},
		{models.AED, models.USD}: {Mid: decimal.RequireFromString("3.67"), SpreadBps: 25},
		{models.NGN, models.USD}: {Mid: decimal.RequireFromString("750"), SpreadBps: 50},
		{models.USD, models.EUR}: {Mid: decimal.RequireFromString("1.087"), SpreadBps: 10},
		{models.EUR, models.USD}: {Mid: decimal.RequireFromString("0.9259"), SpreadBps: 10},
	}
}

// Lookup returns the rate for a direct pair
func (t RateTable) Lookup(from, to models.FiatCurrency) (Rate, bool) {
	r, ok := t[Pair{From: from, To: to}]
	return r, ok
}

// With returns a copy of t with overrides applied on top
func (t RateTable) With(overrides RateTable) RateTable {
	merged := make(RateTable, len(t)+len(overrides))
	for p, r := range t {
		merged[p] = r
	}
	for p, r := range overrides {
		merged[p] = r
	}
	return merged
}

// Validate rejects non-positive mids and negative spreads
func (t RateTable) Validate() error {
	for p, r := range t {
		if !p.From.IsSupported() || !p.To.IsSupported() {
			return fmt.Errorf("rate %s: unsupported currency", p)
		}
		if !r.Mid.IsPositive() {
			return fmt.Errorf("rate %s: mid must be positive, got %s", p, r.Mid.String())
		}
		if r.SpreadBps < 0 {
			return fmt.Errorf("rate %s: spread must not be negative, got %d", p, r.SpreadBps)
		}
	}
	return nil
}
