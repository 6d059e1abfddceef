package repository

import (
	"context"
	"time"

	"quiz-subscription-engine/internal/domain/model"
)

// SubscriptionRepository stores one SubscriptionRecord per account.
type SubscriptionRepository interface {
	// LockAccount serializes writers for one account until the surrounding
	// transaction ends. It is a no-op outside a transaction.
	LockAccount(ctx context.Context, qx any, accountID string) error
	// FindByAccount returns domain.ErrNotFound when the account never had a record.
	FindByAccount(ctx context.Context, qx any, accountID string) (*model.SubscriptionRecord, error)
	FindByTokenRef(ctx context.Context, qx any, provider, tokenRef string) (*model.SubscriptionRecord, error)
	FindBySubscriptionRef(ctx context.Context, qx any, provider, subscriptionRef string) (*model.SubscriptionRecord, error)
	Save(ctx context.Context, qx any, r *model.SubscriptionRecord) error
	// ListDue returns records of the given providers whose current period ended
	// at or before now: trial past trialEndsAt, active past accessUntil, and cancelled
	// past accessUntil or without one.
	ListDue(ctx context.Context, qx any, now time.Time, providers []string, limit int) ([]*model.SubscriptionRecord, error)
	CountByStatus(ctx context.Context, qx any) (map[model.SubscriptionStatus]int, error)
}

// TransitionRepository keeps the append-only ledger history.
type TransitionRepository interface {
	Append(ctx context.Context, qx any, t *model.Transition) error
	// HasTransaction reports whether transactionID already moved this account.
	HasTransaction(ctx context.Context, qx any, accountID, transactionID string) (bool, error)
	ListByAccount(ctx context.Context, qx any, accountID string, limit int) ([]*model.Transition, error)
}
