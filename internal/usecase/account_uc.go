package usecase

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
)

// Compile-time check
var _ AccountUseCase = (*accountUC)(nil)

type AccountUseCase interface {
	// EnsureByEmail returns the account for email, creating it on first sight.
	EnsureByEmail(ctx context.Context, email, displayName string) (*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	// RecordResult stores the latest quiz result, creating the account if needed.
	RecordResult(ctx context.Context, email, displayName string, score int) (*model.Account, error)
}

type accountUC struct {
	accounts repository.AccountRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewAccountUseCase(accounts repository.AccountRepository, tm repository.TransactionManager, logger *zerolog.Logger) *accountUC {
	return &accountUC{accounts: accounts, tm: tm, log: logger}
}

func (u *accountUC) EnsureByEmail(ctx context.Context, email, displayName string) (*model.Account, error) {
	return u.ensure(ctx, email, displayName, nil)
}

func (u *accountUC) RecordResult(ctx context.Context, email, displayName string, score int) (*model.Account, error) {
	if score < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return u.ensure(ctx, email, displayName, &score)
}

func (u *accountUC) ensure(ctx context.Context, email, displayName string, score *int) (*model.Account, error) {
	defer logging.TraceDuration(u.log, "AccountUC.ensure")()

	candidate, err := model.NewAccount("", email, displayName)
	if err != nil {
		return nil, err
	}
	candidate.LastScore = score

	var out *model.Account
	// Serializable so two concurrent first visits agree on one account.
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err = u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		existing, err := u.accounts.FindByEmail(ctx, tx, candidate.Email)
		switch {
		case err == nil:
			if score != nil || (displayName != "" && existing.DisplayName != candidate.DisplayName) {
				if score != nil {
					existing.LastScore = score
				}
				if candidate.DisplayName != "" {
					existing.DisplayName = candidate.DisplayName
				}
				existing.UpdatedAt = candidate.UpdatedAt
				if err := u.accounts.Save(ctx, tx, existing); err != nil {
					return err
				}
			}
			out = existing
			return nil
		case errors.Is(err, domain.ErrNotFound):
			if err := u.accounts.Save(ctx, tx, candidate); err != nil {
				return err
			}
			out = candidate
			return nil
		default:
			return err
		}
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost a race on the unique email index; the winner's row is the account.
		return u.accounts.FindByEmail(ctx, repository.NoTX, candidate.Email)
	}
	if err != nil {
		u.log.Error().Err(err).Msg("ensure account failed")
		return nil, err
	}
	return out, nil
}

func (u *accountUC) Get(ctx context.Context, id string) (*model.Account, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.accounts.FindByID(ctx, repository.NoTX, id)
}

func (u *accountUC) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.accounts.FindByEmail(ctx, repository.NoTX, email)
}
