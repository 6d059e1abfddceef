package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
)

var _ repository.TransitionRepository = (*transitionRepo)(nil)

type transitionRepo struct{ pool *pgxpool.Pool }

func NewTransitionRepo(pool *pgxpool.Pool) *transitionRepo {
	return &transitionRepo{pool: pool}
}

func (r *transitionRepo) Append(ctx context.Context, tx repository.Tx, t *model.Transition) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	const q = `
INSERT INTO subscription_transitions (id, account_id, from_status, to_status, transaction_id, event_id, source, reason, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`
	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.AccountID, string(t.From), string(t.To), t.TransactionID, t.EventID, string(t.Source), t.Reason, t.At)
	return mapExecErr(err)
}

func (r *transitionRepo) HasTransaction(ctx context.Context, tx repository.Tx, accountID, transactionID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM subscription_transitions WHERE account_id=$1 AND transaction_id=$2);`
	row, err := pickRow(ctx, r.pool, tx, q, accountID, transactionID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}

func (r *transitionRepo) ListByAccount(ctx context.Context, tx repository.Tx, accountID string, limit int) ([]*model.Transition, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, account_id, from_status, to_status, transaction_id, event_id, source, reason, at
  FROM subscription_transitions
 WHERE account_id=$1
 ORDER BY at DESC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, accountID, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.Transition
	for rows.Next() {
		var t model.Transition
		var from, to, source string
		if err := rows.Scan(&t.ID, &t.AccountID, &from, &to, &t.TransactionID, &t.EventID, &source, &t.Reason, &t.At); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.From, t.To, t.Source = model.SubscriptionStatus(from), model.SubscriptionStatus(to), model.TransitionSource(source)
		out = append(out, &t)
	}
	return out, rows.Err()
}
