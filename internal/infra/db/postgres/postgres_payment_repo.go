package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, account_id, provider, transaction_id, kind, amount, currency, status, refunded_amount, order_id, decline_code, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (provider, transaction_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, p.AccountID, p.Provider, p.TransactionID, string(p.Kind), p.Amount, p.Currency,
		string(p.Status), p.RefundedAmount, p.OrderID, p.DeclineCode, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapExecErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *paymentRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, provider, transactionID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE provider=$1 AND transaction_id=$2`
	return r.queryOne(ctx, tx, forUpdate(q, tx), provider, transactionID)
}

func (r *paymentRepo) FindByTransactionIDAny(ctx context.Context, tx repository.Tx, transactionID string) (*model.Payment, error) {
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE transaction_id=$1 ORDER BY created_at DESC LIMIT 1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), transactionID)
}

func (r *paymentRepo) UpdateRefund(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `UPDATE payments SET status=$2, refunded_amount=$3, updated_at=$4 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, p.ID, string(p.Status), p.RefundedAmount, p.UpdatedAt)
	if err != nil {
		return mapExecErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT ` + paymentColumns + ` FROM payments WHERE account_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	var kind, status string
	if err := row.Scan(&p.ID, &p.AccountID, &p.Provider, &p.TransactionID, &kind, &p.Amount, &p.Currency,
		&status, &p.RefundedAmount, &p.OrderID, &p.DeclineCode, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Kind, p.Status = model.PaymentKind(kind), model.PaymentStatus(status)
	return &p, nil
}
