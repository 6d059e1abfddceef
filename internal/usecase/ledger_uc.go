package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase is the single writer of SubscriptionRecords.
type LedgerUseCase interface {
	// GetByAccount returns the record, or a record in status none when the account never subscribed.
	GetByAccount(ctx context.Context, accountID string) (*model.SubscriptionRecord, error)
	// Transition atomically applies one status change for an account. changed=false
	// reports an idempotent no-op; rejected transitions return a *model.TransitionError.
	Transition(ctx context.Context, accountID string, to model.SubscriptionStatus, ev model.Evidence) (*model.SubscriptionRecord, bool, error)
	// TransitionTx is Transition inside a caller-owned transaction.
	TransitionTx(ctx context.Context, tx repository.Tx, accountID string, to model.SubscriptionStatus, ev model.Evidence) (*model.SubscriptionRecord, bool, error)
	// RecordEventIfNew reports false when the event was already seen.
	RecordEventIfNew(ctx context.Context, e *model.ProviderEvent) (bool, error)
	MarkEvent(ctx context.Context, e *model.ProviderEvent, status model.EventStatus, note string) error
	History(ctx context.Context, accountID string, limit int) ([]*model.Transition, error)
}

type ledgerUC struct {
	subs    repository.SubscriptionRepository
	history repository.TransitionRepository
	events  repository.ProviderEventRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
	now     func() time.Time

	// reclaimAfter hands a stuck "received" event out again.
	reclaimAfter time.Duration
}

func NewLedgerUseCase(
	subs repository.SubscriptionRepository,
	history repository.TransitionRepository,
	events repository.ProviderEventRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *ledgerUC {
	l := logger.With().Str("component", "ledger").Logger()
	return &ledgerUC{
		subs:         subs,
		history:      history,
		events:       events,
		tm:           tm,
		log:          &l,
		now:          time.Now,
		reclaimAfter: 5 * time.Minute,
	}
}

// WithClock replaces the time source; used by tests.
func (u *ledgerUC) WithClock(now func() time.Time) *ledgerUC {
	u.now = now
	return u
}

func (u *ledgerUC) GetByAccount(ctx context.Context, accountID string) (*model.SubscriptionRecord, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidArgument
	}
	rec, err := u.subs.FindByAccount(ctx, repository.NoTX, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.NewSubscriptionRecord(accountID), nil
	}
	return rec, err
}

func (u *ledgerUC) Transition(ctx context.Context, accountID string, to model.SubscriptionStatus, ev model.Evidence) (*model.SubscriptionRecord, bool, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Transition")()

	var (
		out     *model.SubscriptionRecord
		changed bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, changed, err = u.TransitionTx(ctx, tx, accountID, to, ev)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (u *ledgerUC) TransitionTx(ctx context.Context, tx repository.Tx, accountID string, to model.SubscriptionStatus, ev model.Evidence) (*model.SubscriptionRecord, bool, error) {
	if accountID == "" {
		return nil, false, domain.ErrInvalidArgument
	}
	if err := u.subs.LockAccount(ctx, tx, accountID); err != nil {
		return nil, false, err
	}

	cur, err := u.subs.FindByAccount(ctx, tx, accountID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cur = model.NewSubscriptionRecord(accountID)
	case err != nil:
		return nil, false, err
	}

	fresh := true
	if ev.TransactionID != "" {
		seen, err := u.history.HasTransaction(ctx, tx, accountID, ev.TransactionID)
		if err != nil {
			return nil, false, err
		}
		fresh = !seen
	}

	now := u.now()
	next, changed, err := cur.Apply(to, ev, fresh, now)
	if err != nil {
		var te *model.TransitionError
		if errors.As(err, &te) {
			metrics.IncLedgerRejection(te.Reason)
			logging.With(ctx, u.log).Warn().
				Str("account_id", accountID).
				Str("from", string(te.From)).
				Str("to", string(te.To)).
				Str("reason", te.Reason).
				Str("source", string(ev.Source)).
				Msg("transition rejected")
		}
		return cur, false, err
	}
	if !changed {
		return cur, false, nil
	}

	if err := u.subs.Save(ctx, tx, &next); err != nil {
		return nil, false, err
	}

	t := &model.Transition{
		AccountID: accountID,
		From:      cur.Status,
		To:        next.Status,
		Source:    ev.Source,
		Reason:    ev.Reason,
		At:        now,
	}
	// Only fresh transactions enter history; the unique (account, transaction) index enforces it.
	if ev.TransactionID != "" && fresh {
		txn := ev.TransactionID
		t.TransactionID = &txn
	}
	if ev.EventID != "" {
		id := ev.EventID
		t.EventID = &id
	}
	if err := u.history.Append(ctx, tx, t); err != nil {
		return nil, false, err
	}

	metrics.IncLedgerTransition(cur.Status, next.Status, ev.Source)
	logging.With(ctx, u.log).Info().
		Str("account_id", accountID).
		Str("from", string(cur.Status)).
		Str("to", string(next.Status)).
		Str("source", string(ev.Source)).
		Int64("version", next.Version).
		Msg("subscription transition applied")
	return &next, true, nil
}

func (u *ledgerUC) RecordEventIfNew(ctx context.Context, e *model.ProviderEvent) (bool, error) {
	if e == nil || e.Provider == "" || e.EventID == "" {
		return false, domain.ErrInvalidArgument
	}
	return u.events.RecordIfNew(ctx, repository.NoTX, e, u.reclaimAfter)
}

func (u *ledgerUC) MarkEvent(ctx context.Context, e *model.ProviderEvent, status model.EventStatus, note string) error {
	e.Status, e.Note = status, note
	return u.events.Mark(ctx, repository.NoTX, e.Provider, e.EventID, status, e.AccountID, note)
}

func (u *ledgerUC) History(ctx context.Context, accountID string, limit int) ([]*model.Transition, error) {
	return u.history.ListByAccount(ctx, repository.NoTX, accountID, limit)
}
