package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// Compile-time check
var _ MaintenanceUseCase = (*maintenanceUC)(nil)

type ReconcileSummary struct {
	Scanned   int `json:"scanned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type MaintenanceUseCase interface {
	// GCAttempts deletes payment attempts older than the retention window.
	GCAttempts(ctx context.Context) (int64, error)
	// ReconcileAttempts re-confirms step-ups whose callback never came back.
	ReconcileAttempts(ctx context.Context) (ReconcileSummary, error)
	// RefreshStats publishes the subscription status gauge.
	RefreshStats(ctx context.Context) (map[model.SubscriptionStatus]int, error)
}

type MaintenanceOptions struct {
	AttemptRetention time.Duration
	StaleAfter       time.Duration
	BatchSize        int
}

type maintenanceUC struct {
	attempts repository.PaymentAttemptRepository
	subs     repository.SubscriptionRepository
	checkout CheckoutUseCase
	opts     MaintenanceOptions
	log      *zerolog.Logger
	now      func() time.Time
}

func NewMaintenanceUseCase(
	attempts repository.PaymentAttemptRepository,
	subs repository.SubscriptionRepository,
	checkout CheckoutUseCase,
	opts MaintenanceOptions,
	logger *zerolog.Logger,
) *maintenanceUC {
	if opts.AttemptRetention <= 0 {
		opts.AttemptRetention = 72 * time.Hour
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	l := logger.With().Str("component", "maintenance").Logger()
	return &maintenanceUC{
		attempts: attempts,
		subs:     subs,
		checkout: checkout,
		opts:     opts,
		log:      &l,
		now:      time.Now,
	}
}

func (u *maintenanceUC) WithClock(now func() time.Time) *maintenanceUC {
	u.now = now
	return u
}

func (u *maintenanceUC) GCAttempts(ctx context.Context) (int64, error) {
	before := u.now().Add(-u.opts.AttemptRetention)
	n, err := u.attempts.DeleteOlderThan(ctx, repository.NoTX, before)
	if err != nil {
		return 0, fmt.Errorf("delete attempts: %w", err)
	}
	metrics.AddAttemptsGCDeleted(n)
	if n > 0 {
		u.log.Info().Int64("deleted", n).Time("before", before).Msg("payment attempts collected")
	}
	return n, nil
}

func (u *maintenanceUC) ReconcileAttempts(ctx context.Context) (ReconcileSummary, error) {
	defer logging.TraceDuration(u.log, "MaintenanceUC.ReconcileAttempts")()

	var sum ReconcileSummary
	if u.checkout == nil {
		return sum, nil
	}
	cutoff := u.now().Add(-u.opts.StaleAfter)
	stale, err := u.attempts.ListStale(ctx, repository.NoTX, model.AttemptStepStepUpPending, cutoff, u.opts.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list stale attempts: %w", err)
	}
	sum.Scanned = len(stale)

	for _, a := range stale {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		actx := logging.WithAccountID(logging.WithOrderID(ctx, a.OrderID), a.AccountID)
		_, err := u.checkout.CompleteAttempt(actx, a.OrderID)
		switch {
		case err == nil:
			sum.Completed++
		case errors.Is(err, domain.ErrDeclined), errors.Is(err, domain.ErrProviderPermanent):
			sum.Failed++
		default:
			sum.Pending++
			logging.With(actx, u.log).Warn().Err(err).Msg("stale attempt still unresolved")
		}
	}
	if sum.Scanned > 0 {
		u.log.Info().
			Int("scanned", sum.Scanned).
			Int("completed", sum.Completed).
			Int("failed", sum.Failed).
			Int("pending", sum.Pending).
			Msg("stale attempts reconciled")
	}
	return sum, nil
}

func (u *maintenanceUC) RefreshStats(ctx context.Context) (map[model.SubscriptionStatus]int, error) {
	counts, err := u.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	metrics.SetSubscriptionsTotal(counts)
	return counts, nil
}
