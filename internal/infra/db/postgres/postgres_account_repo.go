package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
)

var _ repository.AccountRepository = (*PostgresAccountRepo)(nil)

type PostgresAccountRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAccountRepo(pool *pgxpool.Pool) *PostgresAccountRepo {
	return &PostgresAccountRepo{pool: pool}
}

const accountColumns = `id, email, display_name, last_score, customer_ref, created_at, updated_at`

func (r *PostgresAccountRepo) Save(ctx context.Context, qx any, a *model.Account) error {
	const q = `
INSERT INTO accounts (` + accountColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  email=$2, display_name=$3, last_score=COALESCE($4, accounts.last_score),
  customer_ref=COALESCE($5, accounts.customer_ref), updated_at=$7;`

	_, err := execSQL(ctx, r.pool, qx, q, a.ID, model.NormalizeEmail(a.Email), a.DisplayName, a.LastScore, a.CustomerRef, a.CreatedAt, a.UpdatedAt)
	return mapExecErr(err)
}

func (r *PostgresAccountRepo) FindByID(ctx context.Context, qx any, id string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE id=$1`
	return r.queryOne(ctx, qx, forUpdate(q, qx), id)
}

func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, qx any, email string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email)=$1`
	return r.queryOne(ctx, qx, forUpdate(q, qx), model.NormalizeEmail(email))
}

func (r *PostgresAccountRepo) FindByCustomerRef(ctx context.Context, qx any, customerRef string) (*model.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE customer_ref=$1 ORDER BY created_at ASC LIMIT 1`
	return r.queryOne(ctx, qx, q, customerRef)
}

func (r *PostgresAccountRepo) SetCustomerRef(ctx context.Context, qx any, id, customerRef string) error {
	const q = `UPDATE accounts SET customer_ref=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, qx, q, id, customerRef)
	if err != nil {
		return mapExecErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresAccountRepo) queryOne(ctx context.Context, qx any, q string, args ...interface{}) (*model.Account, error) {
	row, err := pickRow(ctx, r.pool, qx, q, args...)
	if err != nil {
		return nil, err
	}
	var a model.Account
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.LastScore, &a.CustomerRef, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return &a, nil
}
