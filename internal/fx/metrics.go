package fx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_quotes_total",
			Help: "Total number of FX quotes by pricing source",
		},
		[]string{"source", "pair"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fx_partner_fallbacks_total",
			Help: "Total number of partner failures answered with simulated rates",
		},
		[]string{"pair"},
	)
)
