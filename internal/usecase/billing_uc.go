package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// Compile-time check
var _ BillingUseCase = (*billingUC)(nil)

// BillingSummary reports one billing pass.
type BillingSummary struct {
	Due      int `json:"due"`
	Renewed  int `json:"renewed"`
	Declined int `json:"declined"`
	Errored  int `json:"errored"`
	Lapsed   int `json:"lapsed"` // cancelled records whose grace period ended
	Skipped  int `json:"skipped"`
}

type BillingUseCase interface {
	// RunOnce charges every merchant-billed record whose period ended.
	// A failure on one account never stops the others.
	RunOnce(ctx context.Context) (BillingSummary, error)
}

type BillingOptions struct {
	Amount        int64
	Currency      string
	BillingPeriod time.Duration
	BatchSize     int
}

type billingUC struct {
	subs      repository.SubscriptionRepository
	accounts  repository.AccountRepository
	payments  repository.PaymentRepository
	ledger    LedgerUseCase
	providers ProviderSet
	notifier  adapter.Notifier
	opts      BillingOptions
	log       *zerolog.Logger
	now       func() time.Time
}

func NewBillingUseCase(
	subs repository.SubscriptionRepository,
	accounts repository.AccountRepository,
	payments repository.PaymentRepository,
	ledger LedgerUseCase,
	providers ProviderSet,
	notifier adapter.Notifier,
	opts BillingOptions,
	logger *zerolog.Logger,
) *billingUC {
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	l := logger.With().Str("component", "billing").Logger()
	return &billingUC{
		subs:      subs,
		accounts:  accounts,
		payments:  payments,
		ledger:    ledger,
		providers: providers,
		notifier:  notifier,
		opts:      opts,
		log:       &l,
		now:       time.Now,
	}
}

func (u *billingUC) WithClock(now func() time.Time) *billingUC {
	u.now = now
	return u
}

func (u *billingUC) RunOnce(ctx context.Context) (BillingSummary, error) {
	defer logging.TraceDuration(u.log, "BillingUC.RunOnce")()

	var sum BillingSummary
	names := u.providers.MerchantBilled()
	if len(names) == 0 {
		return sum, nil
	}
	now := u.now()
	due, err := u.subs.ListDue(ctx, repository.NoTX, now, names, u.opts.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list due subscriptions: %w", err)
	}
	sum.Due = len(due)

	for _, rec := range due {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		outcome := u.billOne(logging.WithAccountID(ctx, rec.AccountID), rec, now)
		metrics.IncBillingCharge(outcome)
		switch outcome {
		case "renewed":
			sum.Renewed++
		case "declined":
			sum.Declined++
		case "error":
			sum.Errored++
		case "lapsed":
			sum.Lapsed++
		default:
			sum.Skipped++
		}
	}

	u.log.Info().
		Int("due", sum.Due).
		Int("renewed", sum.Renewed).
		Int("declined", sum.Declined).
		Int("errored", sum.Errored).
		Int("lapsed", sum.Lapsed).
		Msg("billing run finished")
	return sum, nil
}

// billOne settles a single due record. Charges are attempted once; a decline or
// provider error expires the record and keeps the token.
func (u *billingUC) billOne(ctx context.Context, rec *model.SubscriptionRecord, now time.Time) string {
	log := logging.With(ctx, u.log)

	boundary := rec.AccessUntil
	if rec.Status == model.SubscriptionStatusTrial && rec.TrialEndsAt != nil {
		boundary = rec.TrialEndsAt
	}

	if rec.Status == model.SubscriptionStatusCancelled {
		return u.expire(ctx, rec, "grace_ended", "lapsed", adapter.NotifySubscriptionExpired)
	}
	if rec.ProviderTokenRef == nil || *rec.ProviderTokenRef == "" {
		return u.expire(ctx, rec, "no_token", "declined", adapter.NotifyPaymentFailed)
	}

	provider, err := u.providers.Get(rec.Provider)
	if err != nil {
		log.Error().Err(err).Msg("record provider not configured")
		return "skipped"
	}

	// The due list is a snapshot; a cancel or webhook may have landed since.
	cur, err := u.ledger.GetByAccount(ctx, rec.AccountID)
	if err != nil {
		log.Error().Err(err).Msg("failed to re-read subscription before charging")
		return "error"
	}
	if !sameBillingState(rec, cur) {
		log.Info().Str("status", string(cur.Status)).Msg("subscription changed since listing, not charging")
		return "skipped"
	}

	var customerRef string
	if acct, err := u.accounts.FindByID(ctx, repository.NoTX, rec.AccountID); err == nil && acct.CustomerRef != nil {
		customerRef = *acct.CustomerRef
	}

	// One key per account and period boundary: a re-run after a crash cannot double charge.
	key := fmt.Sprintf("renewal:%s:%d", rec.AccountID, boundaryUnix(boundary))
	start := u.now()
	res, err := provider.ChargeStoredToken(ctx, adapter.ChargeRequest{
		TokenRef:       *rec.ProviderTokenRef,
		CustomerRef:    customerRef,
		Amount:         u.opts.Amount,
		Currency:       u.opts.Currency,
		ReasonCode:     "recurring",
		Reference:      key,
		IdempotencyKey: key,
	})
	observe(provider.Name(), "charge", start, res.Outcome, err)

	switch {
	case err != nil:
		log.Warn().Err(err).Msg("recurring charge failed")
		u.expire(ctx, rec, "charge_error", "error", adapter.NotifyPaymentFailed)
		return "error"
	case res.Outcome != adapter.OutcomeApproved:
		log.Info().Str("decline_code", res.DeclineCode).Msg("recurring charge declined")
		return u.expire(ctx, rec, "declined:"+res.DeclineCode, "declined", adapter.NotifyPaymentFailed)
	}

	// Relative to the run time: billing never backdates access.
	until := u.now().Add(u.opts.BillingPeriod)
	next, _, err := u.ledger.Transition(ctx, rec.AccountID, model.SubscriptionStatusActive, model.Evidence{
		TransactionID: res.TransactionID,
		Provider:      provider.Name(),
		AccessUntil:   &until,
		Source:        model.SourceScheduler,
		Reason:        "renewal",
	})
	if err != nil {
		// The money moved; leave the record for the next run and the webhook to settle.
		log.Error().Err(err).Str("transaction_id", res.TransactionID).Msg("renewal charged but ledger update failed")
		return "error"
	}

	p := &model.Payment{
		AccountID:     rec.AccountID,
		Provider:      provider.Name(),
		TransactionID: res.TransactionID,
		Kind:          model.PaymentKindRecurring,
		Amount:        u.opts.Amount,
		Currency:      u.opts.Currency,
		Status:        model.PaymentStatusSucceeded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err == nil {
		metrics.AddPaymentRevenue(u.opts.Currency, u.opts.Amount)
	} else if !errors.Is(err, domain.ErrAlreadyExists) {
		log.Error().Err(err).Msg("renewal payment not recorded")
	}

	u.notify(ctx, rec.AccountID, adapter.NotifySubscriptionRenewed, map[string]string{"until": dateLabel(next.AccessUntil)})
	return "renewed"
}

func (u *billingUC) expire(ctx context.Context, rec *model.SubscriptionRecord, reason, outcome string, event adapter.NotificationEvent) string {
	_, changed, err := u.ledger.Transition(ctx, rec.AccountID, model.SubscriptionStatusExpired, model.Evidence{
		Source: model.SourceScheduler,
		Reason: reason,
	})
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("reason", reason).Msg("failed to expire subscription")
		return "error"
	}
	if changed {
		u.notify(ctx, rec.AccountID, event, nil)
	}
	return outcome
}

func (u *billingUC) notify(ctx context.Context, accountID string, event adapter.NotificationEvent, data map[string]string) {
	acct, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return
	}
	notifyAsync(ctx, u.notifier, u.log, adapter.Notification{Event: event, To: acct.Email, Name: acct.DisplayName, Data: data})
}

// sameBillingState reports whether cur still matches the listed snapshot.
func sameBillingState(snap, cur *model.SubscriptionRecord) bool {
	return snap.Status == cur.Status &&
		snap.Provider == cur.Provider &&
		sameTime(snap.AccessUntil, cur.AccessUntil) &&
		sameTime(snap.TrialEndsAt, cur.TrialEndsAt) &&
		sameString(snap.ProviderTokenRef, cur.ProviderTokenRef)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func boundaryUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}
