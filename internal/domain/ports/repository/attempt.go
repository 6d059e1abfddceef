package repository

import (
	"context"
	"time"

	"quiz-subscription-engine/internal/domain/model"
)

type PaymentAttemptRepository interface {
	Save(ctx context.Context, qx any, a *model.PaymentAttempt) error
	FindByOrderID(ctx context.Context, qx any, orderID string) (*model.PaymentAttempt, error)
	FindByContinuationRef(ctx context.Context, qx any, ref string) (*model.PaymentAttempt, error)
	// FindOpenByAccount returns the newest non-final attempt, or domain.ErrNotFound.
	FindOpenByAccount(ctx context.Context, qx any, accountID string) (*model.PaymentAttempt, error)
	ListStale(ctx context.Context, qx any, step model.AttemptStep, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error)
	DeleteOlderThan(ctx context.Context, qx any, before time.Time) (int64, error)
}
