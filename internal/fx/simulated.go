package fx

import (
	"context"
	"fmt"

	"deposit-convert-go/internal/models"

	"github.com/shopspring/decimal"
)

// SimulatedSource prices legs from a fixed rate table without any network call
type SimulatedSource struct {
	rates RateTable
}

func NewSimulatedSource(rates RateTable) *SimulatedSource {
	if rates == nil {
		rates = DefaultRates()
	}
	return &SimulatedSource{rates: rates}
}

func (s *SimulatedSource) Name() string {
	return "simulated"
}

func (s *SimulatedSource) Supports(from, to models.FiatCurrency) bool {
	_, ok := s.rates.Lookup(from, to)
	return ok
}

func (s *SimulatedSource) Leg(_ context.Context, from, to models.FiatCurrency, _ decimal.Decimal) (*Leg, error) {
	rate, ok := s.rates.Lookup(from, to)
	if !ok {
		return nil, fmt.Errorf("%w: %s-%s", ErrUnsupportedPair, from, to)
	}
	return &Leg{
		From:       from,
		To:         to,
		Mid:        rate.Mid,
		SpreadBps:  rate.SpreadBps,
		PartnerRef: simulatedRef(from, to),
		Simulated:  true,
	}, nil
}
