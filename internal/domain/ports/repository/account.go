package repository

import (
	"context"

	"quiz-subscription-engine/internal/domain/model"
)

type AccountRepository interface {
	// Save inserts or updates an account keyed by id.
	Save(ctx context.Context, qx any, a *model.Account) error
	FindByID(ctx context.Context, qx any, id string) (*model.Account, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, qx any, email string) (*model.Account, error)
	FindByCustomerRef(ctx context.Context, qx any, customerRef string) (*model.Account, error)
	SetCustomerRef(ctx context.Context, qx any, id, customerRef string) error
}
