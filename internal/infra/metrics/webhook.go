package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(webhookEventsTotal) }

var webhookEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Inbound provider webhooks by kind and outcome.",
	},
	// outcome: processed|duplicate|ignored|unresolved|failed|bad_signature
	[]string{"provider", "kind", "outcome"},
)

func IncWebhookEvent(provider, kind, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(provider), norm(kind), norm(outcome)).Inc()
}
