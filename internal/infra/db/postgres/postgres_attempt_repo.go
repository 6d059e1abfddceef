package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
)

var _ repository.PaymentAttemptRepository = (*attemptRepo)(nil)

type attemptRepo struct{ pool *pgxpool.Pool }

func NewAttemptRepo(pool *pgxpool.Pool) *attemptRepo {
	return &attemptRepo{pool: pool}
}

const attemptColumns = `order_id, account_id, provider, amount, currency, step, continuation_ref, transaction_id, last_response, created_at, updated_at`

func (r *attemptRepo) Save(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt) error {
	const q = `
INSERT INTO payment_attempts (` + attemptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (order_id) DO UPDATE SET
  step=$6, continuation_ref=$7, transaction_id=$8, last_response=$9, updated_at=$11;`
	_, err := execSQL(ctx, r.pool, tx, q, a.OrderID, a.AccountID, a.Provider, a.Amount, a.Currency, string(a.Step),
		a.ContinuationRef, a.TransactionID, a.LastResponse, a.CreatedAt, a.UpdatedAt)
	return mapExecErr(err)
}

func (r *attemptRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.PaymentAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE order_id=$1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), orderID)
}

func (r *attemptRepo) FindByContinuationRef(ctx context.Context, tx repository.Tx, ref string) (*model.PaymentAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE continuation_ref=$1 ORDER BY created_at DESC LIMIT 1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), ref)
}

func (r *attemptRepo) FindOpenByAccount(ctx context.Context, tx repository.Tx, accountID string) (*model.PaymentAttempt, error) {
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts
 WHERE account_id=$1 AND step IN ('created','step_up_pending')
 ORDER BY created_at DESC LIMIT 1`
	return r.queryOne(ctx, tx, q, accountID)
}

func (r *attemptRepo) ListStale(ctx context.Context, tx repository.Tx, step model.AttemptStep, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + attemptColumns + ` FROM payment_attempts
 WHERE step=$1 AND updated_at < $2
 ORDER BY updated_at ASC
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, string(step), olderThan, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *attemptRepo) DeleteOlderThan(ctx context.Context, tx repository.Tx, before time.Time) (int64, error) {
	const q = `DELETE FROM payment_attempts WHERE created_at < $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, before)
	if err != nil {
		return 0, mapExecErr(err)
	}
	return tag.RowsAffected(), nil
}

func (r *attemptRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.PaymentAttempt, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	a, err := scanAttempt(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return a, nil
}

func scanAttempt(row pgx.Row) (*model.PaymentAttempt, error) {
	var a model.PaymentAttempt
	var step string
	if err := row.Scan(&a.OrderID, &a.AccountID, &a.Provider, &a.Amount, &a.Currency, &step,
		&a.ContinuationRef, &a.TransactionID, &a.LastResponse, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Step = model.AttemptStep(step)
	return &a, nil
}
