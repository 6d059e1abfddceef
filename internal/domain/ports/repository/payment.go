package repository

import (
	"context"

	"quiz-subscription-engine/internal/domain/model"
)

type PaymentRepository interface {
	// Save inserts a payment; an existing (provider, transaction id) pair is left
	// untouched and reported as domain.ErrAlreadyExists.
	Save(ctx context.Context, qx any, p *model.Payment) error
	FindByTransactionID(ctx context.Context, qx any, provider, transactionID string) (*model.Payment, error)
	// FindByTransactionIDAny looks a transaction up across providers.
	FindByTransactionIDAny(ctx context.Context, qx any, transactionID string) (*model.Payment, error)
	UpdateRefund(ctx context.Context, qx any, p *model.Payment) error
	ListByAccount(ctx context.Context, qx any, accountID string, limit int) ([]*model.Payment, error)
}
