package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
)

var _ repository.ProviderEventRepository = (*providerEventRepo)(nil)

type providerEventRepo struct{ pool *pgxpool.Pool }

func NewProviderEventRepo(pool *pgxpool.Pool) *providerEventRepo {
	return &providerEventRepo{pool: pool}
}

// RecordIfNew claims the event for processing. The upsert only rewrites rows
// whose earlier processing failed or stalled; RETURNING yields nothing for a
// row that is already done or in flight.
func (r *providerEventRepo) RecordIfNew(ctx context.Context, tx repository.Tx, e *model.ProviderEvent, reclaimAfter time.Duration) (bool, error) {
	const q = `
INSERT INTO provider_events (
  provider, event_id, raw_type, kind, transaction_id, token_ref, subscription_ref, order_ref,
  email, amount, currency, occurred_at, sealed_payload, status, received_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'received',NOW())
ON CONFLICT (provider, event_id) DO UPDATE SET
  status='received', received_at=NOW(), note=''
WHERE provider_events.status='failed'
   OR (provider_events.status='received' AND provider_events.received_at < NOW() - ($14::double precision * INTERVAL '1 second'))
RETURNING event_id;`

	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	row, err := pickRow(ctx, r.pool, tx, q,
		e.Provider, e.EventID, e.RawType, string(e.Kind), e.TransactionID, e.TokenRef, e.SubscriptionRef, e.OrderRef,
		e.Email, e.Amount, e.Currency, occurred, e.SealedPayload, reclaimAfter.Seconds())
	if err != nil {
		return false, err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if mapScanErr(err) == domain.ErrNotFound {
			return false, nil
		}
		return false, mapExecErr(err)
	}
	e.Status = model.EventStatusReceived
	return true, nil
}

func (r *providerEventRepo) Mark(ctx context.Context, tx repository.Tx, provider, eventID string, status model.EventStatus, accountID *string, note string) error {
	const q = `
UPDATE provider_events
   SET status=$3, account_id=COALESCE($4, account_id), note=$5, processed_at=NOW()
 WHERE provider=$1 AND event_id=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, provider, eventID, string(status), accountID, note)
	if err != nil {
		return mapExecErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *providerEventRepo) List(ctx context.Context, tx repository.Tx, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT provider, event_id, raw_type, kind, transaction_id, token_ref, subscription_ref, order_ref,
       email, amount, currency, occurred_at, status, account_id, note, received_at, processed_at
  FROM provider_events
 WHERE ($1 = '' OR provider=$1) AND ($2 = '' OR status=$2)
 ORDER BY received_at DESC
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, provider, string(status), limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.ProviderEvent
	for rows.Next() {
		var e model.ProviderEvent
		var kind, st string
		if err := rows.Scan(&e.Provider, &e.EventID, &e.RawType, &kind, &e.TransactionID, &e.TokenRef, &e.SubscriptionRef, &e.OrderRef,
			&e.Email, &e.Amount, &e.Currency, &e.OccurredAt, &st, &e.AccountID, &e.Note, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Kind, e.Status = model.EventKind(kind), model.EventStatus(st)
		out = append(out, &e)
	}
	return out, rows.Err()
}
