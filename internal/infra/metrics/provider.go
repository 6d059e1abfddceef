package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallsTotal,
		providerCallDuration,
		paymentsRevenueTotal,
	)
}

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Calls to payment providers by operation and outcome.",
		},
		[]string{"provider", "op", "outcome"}, // outcome: approved|declined|step_up|transient|permanent|ok
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Latency of payment provider calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "op"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful payments in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func ObserveProviderCall(provider, op, outcome string, took time.Duration) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(op), norm(outcome)).Inc()
	providerCallDuration.WithLabelValues(norm(provider), norm(op)).Observe(took.Seconds())
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}
