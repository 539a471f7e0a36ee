package conversion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposits_received_total",
		Help: "Deposits accepted through the webhook, by currency.",
	}, []string{"currency"})

	conversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversions_total",
		Help: "Finished conversion attempts, by path and outcome.",
	}, []string{"path", "outcome"})

	conversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conversion_duration_seconds",
		Help:    "Time from claim to final deposit status.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"path"})

	conversionsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversions_deduplicated_total",
		Help: "Convert calls answered from a claimed or in-flight attempt.",
	})
)
