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

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `account_id, status, provider, provider_token_ref, provider_subscription_ref,
       trial_ends_at, access_until, last_provider_event_id, last_transaction_id, version, created_at, updated_at`

// LockAccount takes a transaction-scoped advisory lock keyed by the account id.
// It also covers accounts that have no subscription row yet, where FOR UPDATE has nothing to lock.
func (r *subscriptionRepo) LockAccount(ctx context.Context, tx repository.Tx, accountID string) error {
	if !inTx(tx) {
		return nil
	}
	const q = `SELECT pg_advisory_xact_lock($1);`
	_, err := execSQL(ctx, r.pool, tx, q, hashToInt64("subscription:"+accountID))
	return mapExecErr(err)
}

func (r *subscriptionRepo) FindByAccount(ctx context.Context, tx repository.Tx, accountID string) (*model.SubscriptionRecord, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE account_id=$1`
	return r.queryOne(ctx, tx, forUpdate(q, tx), accountID)
}

func (r *subscriptionRepo) FindByTokenRef(ctx context.Context, tx repository.Tx, provider, tokenRef string) (*model.SubscriptionRecord, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions
 WHERE provider=$1 AND provider_token_ref=$2
 ORDER BY updated_at DESC LIMIT 1`
	return r.queryOne(ctx, tx, q, provider, tokenRef)
}

func (r *subscriptionRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, provider, subscriptionRef string) (*model.SubscriptionRecord, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions
 WHERE provider=$1 AND provider_subscription_ref=$2
 LIMIT 1`
	return r.queryOne(ctx, tx, q, provider, subscriptionRef)
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.SubscriptionRecord) error {
	const q = `
INSERT INTO subscriptions (
  account_id, status, provider, provider_token_ref, provider_subscription_ref,
  trial_ends_at, access_until, last_provider_event_id, last_transaction_id, version, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (account_id) DO UPDATE SET
  status=$2, provider=$3, provider_token_ref=$4, provider_subscription_ref=$5,
  trial_ends_at=$6, access_until=$7, last_provider_event_id=$8, last_transaction_id=$9,
  version=$10, updated_at=$12;`

	_, err := execSQL(ctx, r.pool, tx, q,
		s.AccountID, string(s.Status), s.Provider, s.ProviderTokenRef, s.ProviderSubscriptionRef,
		s.TrialEndsAt, s.AccessUntil, s.LastKnownProviderEventID, s.LastTransactionID,
		s.Version, s.CreatedAt, s.UpdatedAt)
	return mapExecErr(err)
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, providers []string, limit int) ([]*model.SubscriptionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE provider = ANY($2)
   AND (
        (status='trial' AND COALESCE(trial_ends_at, access_until) <= $1)
     OR (status='active' AND access_until <= $1)
     OR (status='cancelled' AND (access_until IS NULL OR access_until <= $1))
   )
 ORDER BY access_until ASC NULLS FIRST
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, providers, limit)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	var out []*model.SubscriptionRecord
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapExecErr(err)
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.SubscriptionRecord, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return s, nil
}

func scanSubscription(row pgx.Row) (*model.SubscriptionRecord, error) {
	var s model.SubscriptionRecord
	var status string
	if err := row.Scan(
		&s.AccountID, &status, &s.Provider, &s.ProviderTokenRef, &s.ProviderSubscriptionRef,
		&s.TrialEndsAt, &s.AccessUntil, &s.LastKnownProviderEventID, &s.LastTransactionID,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}
