package mint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mintRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_requests_total",
			Help: "Total number of mint transfers requested",
		},
		[]string{"backend", "status"},
	)

	mintSettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_settlements_total",
			Help: "Total number of mint settlements by outcome",
		},
		[]string{"backend", "outcome"},
	)

	mintSettlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mint_settlement_duration_seconds",
			Help:    "Time spent waiting for mint settlement",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)
)
