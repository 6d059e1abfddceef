package metrics

import (
	"quiz-subscription-engine/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		checkoutTotal,
		ledgerTransitionsTotal,
		ledgerRejectionsTotal,
		subscriptionsTotal,
	)
}

var (
	checkoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout attempts by flow and outcome.",
		},
		[]string{"flow", "outcome"}, // outcome: trial|step_up|already_active|declined|blocked|error
	)

	ledgerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transitions_total",
			Help: "Applied subscription ledger transitions.",
		},
		[]string{"from", "to", "source"},
	)

	ledgerRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rejections_total",
			Help: "Transitions refused by the ledger, by reason.",
		},
		[]string{"reason"},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscription records by status.",
		},
		[]string{"status"},
	)
)

func IncCheckout(flow, outcome string) {
	checkoutTotal.WithLabelValues(norm(flow), norm(outcome)).Inc()
}

func IncLedgerTransition(from, to model.SubscriptionStatus, source model.TransitionSource) {
	ledgerTransitionsTotal.WithLabelValues(string(from), string(to), string(source)).Inc()
}

func IncLedgerRejection(reason string) {
	ledgerRejectionsTotal.WithLabelValues(norm(reason)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusTrial,
		model.SubscriptionStatusActive,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusExpired,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
