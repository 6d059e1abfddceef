package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobRunsTotal,
		billingChargesTotal,
		attemptsGCDeletedTotal,
	)
}

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_runs_total",
			Help: "Background job runs, labeled by job and outcome.",
		},
		[]string{"job", "outcome"}, // 'ok', 'error', 'skipped'
	)

	billingChargesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_charges_total",
			Help: "Recurring charges attempted by the billing job.",
		},
		[]string{"outcome"}, // 'renewed', 'declined', 'error', 'lapsed'
	)

	attemptsGCDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "attempts_gc_deleted_total",
			Help: "Payment attempts removed by garbage collection.",
		},
	)
)

func IncJobRun(job, outcome string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(outcome)).Inc()
}

func IncBillingCharge(outcome string) {
	billingChargesTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddAttemptsGCDeleted(n int64) {
	attemptsGCDeletedTotal.Add(float64(n))
}
