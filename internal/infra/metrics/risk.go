package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		riskDecisionsTotal,
		notificationsTotal,
	)
}

var (
	riskDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_decisions_total",
			Help: "Risk gate verdicts before checkout.",
		},
		[]string{"decision"}, // 'allow', 'block', 'fail_open'
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifications by event and delivery outcome.",
		},
		[]string{"event", "outcome"},
	)
)

func IncRiskDecision(decision string) {
	riskDecisionsTotal.WithLabelValues(norm(decision)).Inc()
}

func IncNotification(event, outcome string) {
	notificationsTotal.WithLabelValues(norm(event), norm(outcome)).Inc()
}
