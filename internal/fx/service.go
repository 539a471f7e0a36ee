package fx

import (
	"context"
	"fmt"
	"time"

	"deposit-convert-go/internal/models"
	"deposit-convert-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuoteService implements Provider. Direct pairs are priced by the partner when one
// is configured, falling back to the simulated table on any partner failure.
// Local currencies into EUR are composed through USD.
type QuoteService struct {
	partner   Source
	simulated *SimulatedSource
	ttl       time.Duration
	now       func() time.Time
}

// NewQuoteService builds a quote service. partner may be nil to always use simulated rates.
func NewQuoteService(partner Source, rates RateTable, ttl time.Duration) *QuoteService {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &QuoteService{
		partner:   partner,
		simulated: NewSimulatedSource(rates),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *QuoteService) Quote(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*models.FxQuote, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	if !from.IsSupported() {
		return nil, fmt.Errorf("%w: %s", store.ErrUnsupportedCurrency, from)
	}
	if to != models.USD && to != models.EUR {
		return nil, fmt.Errorf("%w: quote target %s", store.ErrUnsupportedCurrency, to)
	}

	now := s.now()
	if from == to {
		return directQuote(from, amount, now), nil
	}

	leg, err := s.route(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}

	quote := price(leg, amount, now.Add(s.ttl))

	source := "partner"
	if quote.Simulated {
		source = "simulated"
	}
	quotesTotal.WithLabelValues(source, Pair{From: from, To: to}.String()).Inc()

	zap.L().Debug("FX quote priced",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("amount", amount.String()),
		zap.String("rate", quote.Rate.String()),
		zap.Int("spread_bps", quote.SpreadBps),
		zap.String("amount_received", quote.AmountReceived.String()),
		zap.String("partner_ref", quote.PartnerRef))

	return quote, nil
}

// route picks a direct leg when the pair is known and composes through USD otherwise
func (s *QuoteService) route(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*Leg, error) {
	if s.simulated.Supports(from, to) {
		return s.leg(ctx, from, to, amount)
	}

	if from == models.USD || !s.simulated.Supports(from, models.USD) || !s.simulated.Supports(models.USD, to) {
		return nil, fmt.Errorf("%w: %s-%s", ErrUnsupportedPair, from, to)
	}

	first, err := s.leg(ctx, from, models.USD, amount)
	if err != nil {
		return nil, err
	}
	intermediate := AmountReceived(amount, EffectiveRate(first.Mid, first.SpreadBps))
	second, err := s.leg(ctx, models.USD, to, intermediate)
	if err != nil {
		return nil, err
	}
	return Compose(first, second)
}

func (s *QuoteService) leg(ctx context.Context, from, to models.FiatCurrency, amount decimal.Decimal) (*Leg, error) {
	if s.partner != nil {
		leg, err := s.partner.Leg(ctx, from, to, amount)
		if err == nil {
			return leg, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fallbacksTotal.WithLabelValues(Pair{From: from, To: to}.String()).Inc()
		zap.L().Warn("FX partner quote failed, using simulated rate",
			zap.String("partner", s.partner.Name()),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("partner_ref", simulatedRef(from, to)),
			zap.Error(err))
	}

	leg, err := s.simulated.Leg(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}
	if s.partner == nil {
		zap.L().Warn("FX leg filled at simulated rate",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("partner_ref", leg.PartnerRef))
	}
	return leg, nil
}
