package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FxQuote is a priced conversion of an amount between two fiat currencies.
// Rate is the mid rate expressed as units of From per one unit of To.
type FxQuote struct {
	From           FiatCurrency    `json:"from"`
	To             FiatCurrency    `json:"to"`
	AmountIn       decimal.Decimal `json:"amountIn"`
	Rate           decimal.Decimal `json:"rate"`
	SpreadBps      int             `json:"spreadBps"`
	EffectiveRate  decimal.Decimal `json:"effectiveRate"`
	AmountReceived decimal.Decimal `json:"amountReceived"`
	PartnerRef     string          `json:"partnerRef"`
	Simulated      bool            `json:"simulated"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// IsExpired reports whether the quote can no longer be committed at now
func (q *FxQuote) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}
