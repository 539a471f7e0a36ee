package fx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DirectPartnerRef = "DIRECT"
	SimulatedPrefix  = "SIM-FX"

	DefaultQuoteTTL = 5 * time.Minute
	DirectQuoteTTL  = 24 * time.Hour
)

var (
	ErrInvalidAmount   = errors.New("fx amount must be positive")
	ErrUnsupportedPair = errors.New("unsupported currency pair")
)

var bpsDivisor = decimal.NewFromInt(10000)

// Provider prices a conversion of amount from one fiat currency into USD or EUR
type Provider interface {
	Quote(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*models.FxQuote, error)
}

// Leg is one priced hop between two currencies
type Leg struct {
	From       models.FiatCurrency
	To         models.FiatCurrency
	Mid        decimal.Decimal
	SpreadBps  int
	PartnerRef string
	Simulated  bool
}

// Source returns a priced leg for a direct pair
type Source interface {
	Name() string
	Leg(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*Leg, error)
}

// EffectiveRate applies the spread to the mid rate: mid * (1 + bps/10000)
func EffectiveRate(mid decimal.Decimal, spreadBps int) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(spreadBps)).Div(bpsDivisor))
	return mid.Mul(factor)
}

// AmountReceived converts amount at the effective rate, rounded half-even to cents
func AmountReceived(amount, effectiveRate decimal.Decimal) decimal.Decimal {
	return models.RoundFiat(amount.Div(effectiveRate))
}

// Compose chains two legs through a shared currency. Mids multiply and spreads add.
func Compose(first, second *Leg) (*Leg, error) {
	if first.To != second.From {
		return nil, fmt.Errorf("cannot compose %s-%s with %s-%s", first.From, first.To, second.From, second.To)
	}
	return &Leg{
		From:       first.From,
		To:         second.To,
		Mid:        first.Mid.Mul(second.Mid),
		SpreadBps:  first.SpreadBps + second.SpreadBps,
		PartnerRef: first.PartnerRef + "+" + second.PartnerRef,
		Simulated:  first.Simulated || second.Simulated,
	}, nil
}

func price(leg *Leg, amount decimal.Decimal, expiresAt time.Time) *models.FxQuote {
	effective := EffectiveRate(leg.Mid, leg.SpreadBps)
	return &models.FxQuote{
		From:           leg.From,
		To:             leg.To,
		AmountIn:       amount,
		Rate:           leg.Mid,
		SpreadBps:      leg.SpreadBps,
		EffectiveRate:  effective,
		AmountReceived: AmountReceived(amount, effective),
		PartnerRef:     leg.PartnerRef,
		Simulated:      leg.Simulated,
		ExpiresAt:      expiresAt,
	}
}

func directQuote(currency models.FiatCurrency, amount decimal.Decimal, now time.Time) *models.FxQuote {
	one := decimal.NewFromInt(1)
	return &models.FxQuote{
		From:           currency,
		To:             currency,
		AmountIn:       amount,
		Rate:           one,
		SpreadBps:      0,
		EffectiveRate:  one,
		AmountReceived: models.RoundFiat(amount),
		PartnerRef:     DirectPartnerRef,
		ExpiresAt:      now.Add(DirectQuoteTTL),
	}
}

func simulatedRef(from, to models.FiatCurrency) string {
	return fmt.Sprintf("%s-%s-%s", SimulatedPrefix, from, to)
}
