package sched

import (
	"context"

	"quiz-subscription-engine/internal/usecase"
)

const (
	JobBilling   = "billing-run"
	JobGC        = "gc-attempts"
	JobReconcile = "reconcile-attempts"
	JobStats     = "refresh-stats"
)

func BillingJob(uc usecase.BillingUseCase) Job {
	return Job{Name: JobBilling, Run: func(ctx context.Context) (any, error) {
		return uc.RunOnce(ctx)
	}}
}

func GCJob(uc usecase.MaintenanceUseCase) Job {
	return Job{Name: JobGC, Run: func(ctx context.Context) (any, error) {
		n, err := uc.GCAttempts(ctx)
		return map[string]int64{"deleted": n}, err
	}}
}

func ReconcileJob(uc usecase.MaintenanceUseCase) Job {
	return Job{Name: JobReconcile, Run: func(ctx context.Context) (any, error) {
		return uc.ReconcileAttempts(ctx)
	}}
}

func StatsJob(uc usecase.MaintenanceUseCase) Job {
	return Job{Name: JobStats, Run: func(ctx context.Context) (any, error) {
		return uc.RefreshStats(ctx)
	}}
}

// StandardJobs is the job set shared by the server, the admin API and opsctl.
func StandardJobs(billing usecase.BillingUseCase, maint usecase.MaintenanceUseCase) []Job {
	return []Job{BillingJob(billing), GCJob(maint), ReconcileJob(maint), StatsJob(maint)}
}
