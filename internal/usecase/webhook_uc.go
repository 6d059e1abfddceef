package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// Compile-time check
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookOutcome is what the HTTP layer needs to pick a status code.
type WebhookOutcome string

const (
	WebhookProcessed  WebhookOutcome = "processed"
	WebhookDuplicate  WebhookOutcome = "duplicate"
	WebhookIgnored    WebhookOutcome = "ignored"
	WebhookUnresolved WebhookOutcome = "unresolved"
)

type WebhookUseCase interface {
	// Handle verifies, records and applies one inbound webhook. A nil error means
	// the provider should receive a 2xx; domain.ErrInvalidSignature and
	// retryable failures are returned as errors.
	Handle(ctx context.Context, provider string, payload []byte, header http.Header) (WebhookOutcome, error)
	ListEvents(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error)
}

type WebhookOptions struct {
	BillingPeriod time.Duration
	TrialDays     int
}

type webhookUC struct {
	translators map[string]adapter.WebhookTranslator
	ledger      LedgerUseCase
	checkout    CheckoutUseCase
	subs        repository.SubscriptionRepository
	accounts    repository.AccountRepository
	attempts    repository.PaymentAttemptRepository
	payments    repository.PaymentRepository
	events      repository.ProviderEventRepository
	tm          repository.TransactionManager
	sealer      adapter.Sealer
	notifier    adapter.Notifier
	opts        WebhookOptions
	log         *zerolog.Logger
	now         func() time.Time
}

func NewWebhookUseCase(
	translators []adapter.WebhookTranslator,
	ledger LedgerUseCase,
	checkout CheckoutUseCase,
	subs repository.SubscriptionRepository,
	accounts repository.AccountRepository,
	attempts repository.PaymentAttemptRepository,
	payments repository.PaymentRepository,
	events repository.ProviderEventRepository,
	tm repository.TransactionManager,
	sealer adapter.Sealer,
	notifier adapter.Notifier,
	opts WebhookOptions,
	logger *zerolog.Logger,
) *webhookUC {
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	ts := make(map[string]adapter.WebhookTranslator, len(translators))
	for _, t := range translators {
		ts[t.Name()] = t
	}
	l := logger.With().Str("component", "webhook").Logger()
	return &webhookUC{
		translators: ts,
		ledger:      ledger,
		checkout:    checkout,
		subs:        subs,
		accounts:    accounts,
		attempts:    attempts,
		payments:    payments,
		events:      events,
		tm:          tm,
		sealer:      sealer,
		notifier:    notifier,
		opts:        opts,
		log:         &l,
		now:         time.Now,
	}
}

func (u *webhookUC) WithClock(now func() time.Time) *webhookUC {
	u.now = now
	return u
}

// resolution says how an event was tied to an account.
type resolution struct {
	accountID string
	via       string // token | subscription | order | customer | email
}

func (r resolution) strong() bool { return r.accountID != "" && r.via != "email" }

func (u *webhookUC) Handle(ctx context.Context, provider string, payload []byte, header http.Header) (WebhookOutcome, error) {
	defer logging.TraceDuration(u.log, "WebhookUC.Handle")()

	tr, ok := u.translators[provider]
	if !ok {
		return "", fmt.Errorf("webhook provider %q: %w", provider, domain.ErrNotFound)
	}
	ev, err := tr.Translate(payload, header)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			metrics.IncWebhookEvent(provider, "unknown", "bad_signature")
		}
		return "", err
	}
	ev.Provider = provider
	ctx = logging.WithEventID(ctx, ev.EventID)
	log := logging.With(ctx, u.log)

	if u.sealer != nil {
		if sealed, sErr := u.sealer.Seal(payload); sErr == nil {
			ev.SealedPayload = sealed
		} else {
			log.Warn().Err(sErr).Msg("payload not sealed")
		}
	}

	isNew, err := u.ledger.RecordEventIfNew(ctx, ev)
	if err != nil {
		return "", err
	}
	if !isNew {
		metrics.IncWebhookEvent(provider, string(ev.Kind), "duplicate")
		log.Debug().Msg("duplicate webhook acknowledged")
		return WebhookDuplicate, nil
	}

	if ev.Kind == model.EventUnknown {
		u.finish(ctx, ev, model.EventStatusIgnored, "unmapped type "+ev.RawType)
		return WebhookIgnored, nil
	}

	res, err := u.resolve(ctx, ev)
	if err != nil {
		u.finish(ctx, ev, model.EventStatusFailed, err.Error())
		return "", err
	}
	if res.accountID == "" {
		u.finish(ctx, ev, model.EventStatusUnresolved, "no account matched")
		return WebhookUnresolved, nil
	}
	ev.AccountID = &res.accountID
	ctx = logging.WithAccountID(ctx, res.accountID)

	// Email is a weak key: it may pick the wrong account, so it never grants access.
	if !res.strong() && ev.Kind.GrantsAccess() {
		u.finish(ctx, ev, model.EventStatusUnresolved, "access-granting event matched by email only")
		return WebhookUnresolved, nil
	}

	note, err := u.apply(ctx, ev, res)
	switch {
	case err == nil:
		u.finish(ctx, ev, model.EventStatusProcessed, note)
		return WebhookProcessed, nil
	case errors.Is(err, domain.ErrConflictingState), errors.Is(err, domain.ErrDeclined):
		// Out-of-order or stale evidence: acknowledge so the provider stops retrying.
		u.finish(ctx, ev, model.EventStatusIgnored, err.Error())
		return WebhookIgnored, nil
	default:
		u.finish(ctx, ev, model.EventStatusFailed, err.Error())
		return "", err
	}
}

func (u *webhookUC) finish(ctx context.Context, ev *model.ProviderEvent, status model.EventStatus, note string) {
	metrics.IncWebhookEvent(ev.Provider, string(ev.Kind), string(status))
	if err := u.ledger.MarkEvent(ctx, ev, status, note); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("status", string(status)).Msg("failed to mark provider event")
		return
	}
	logging.With(ctx, u.log).Info().
		Str("provider", ev.Provider).
		Str("kind", string(ev.Kind)).
		Str("status", string(status)).
		Str("note", note).
		Msg("webhook handled")
}

// resolve finds the account by order ref, token, subscription ref, customer ref, then email.
// An event carrying a strong reference that matches nothing does not fall back to email.
func (u *webhookUC) resolve(ctx context.Context, ev *model.ProviderEvent) (resolution, error) {
	strongRefs := false

	if ev.OrderRef != "" {
		strongRefs = true
		a, err := u.attempts.FindByOrderID(ctx, repository.NoTX, ev.OrderRef)
		if err == nil {
			return resolution{a.AccountID, "order"}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return resolution{}, err
		}
	}
	if ev.TokenRef != "" {
		strongRefs = true
		rec, err := u.subs.FindByTokenRef(ctx, repository.NoTX, ev.Provider, ev.TokenRef)
		if err == nil {
			return resolution{rec.AccountID, "token"}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return resolution{}, err
		}
	}
	if ev.SubscriptionRef != "" {
		strongRefs = true
		rec, err := u.subs.FindBySubscriptionRef(ctx, repository.NoTX, ev.Provider, ev.SubscriptionRef)
		if err == nil {
			return resolution{rec.AccountID, "subscription"}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return resolution{}, err
		}
	}
	if ev.CustomerRef != "" {
		strongRefs = true
		a, err := u.accounts.FindByCustomerRef(ctx, repository.NoTX, ev.CustomerRef)
		if err == nil {
			return resolution{a.ID, "customer"}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return resolution{}, err
		}
	}
	if ev.Kind == model.EventRefundIssued && ev.TransactionID != "" {
		p, err := u.payments.FindByTransactionID(ctx, repository.NoTX, ev.Provider, ev.TransactionID)
		if err == nil {
			return resolution{p.AccountID, "transaction"}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return resolution{}, err
		}
	}
	if strongRefs || ev.Email == "" {
		return resolution{}, nil
	}
	a, err := u.accounts.FindByEmail(ctx, repository.NoTX, ev.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return resolution{}, nil
	}
	if err != nil {
		return resolution{}, err
	}
	return resolution{a.ID, "email"}, nil
}

func (u *webhookUC) apply(ctx context.Context, ev *model.ProviderEvent, res resolution) (string, error) {
	evidence := model.Evidence{
		TransactionID: ev.TransactionID,
		Provider:      ev.Provider,
		EventID:       ev.EventID,
		Source:        model.SourceWebhook,
		Reason:        ev.RawType,
	}
	if ev.TokenRef != "" {
		evidence.TokenRef = ptr(ev.TokenRef)
	}
	if ev.SubscriptionRef != "" {
		evidence.SubscriptionRef = ptr(ev.SubscriptionRef)
	}
	now := u.now()

	switch ev.Kind {
	case model.EventSubscriptionActivated:
		to := model.SubscriptionStatusActive
		if ev.Trialing {
			to = model.SubscriptionStatusTrial
			evidence.TrialEndsAt = ev.TrialEndsAt
			if evidence.TrialEndsAt == nil {
				evidence.TrialEndsAt = ptr(now.AddDate(0, 0, u.opts.TrialDays))
			}
		} else {
			evidence.AccessUntil = u.periodEnd(ev, now)
		}
		if evidence.TransactionID == "" {
			evidence.TransactionID = ev.SubscriptionRef
		}
		return u.transition(ctx, res.accountID, to, evidence, ev)

	case model.EventChargeSucceeded:
		if ev.OrderRef != "" && res.via == "order" {
			// Our own checkout charge; finish it through the same path as the confirm callback.
			r, err := u.checkout.CompleteAttempt(ctx, ev.OrderRef)
			if err != nil {
				return "", err
			}
			return "attempt " + string(r.Outcome), nil
		}
		evidence.AccessUntil = u.periodEnd(ev, now)
		note, err := u.transition(ctx, res.accountID, model.SubscriptionStatusActive, evidence, ev)
		if err != nil {
			return "", err
		}
		u.recordPayment(ctx, ev, res.accountID, model.PaymentKindNative, model.PaymentStatusSucceeded)
		return note, nil

	case model.EventChargeFailed:
		if ev.OrderRef != "" && res.via == "order" {
			// A declined checkout attempt never granted anything.
			return "checkout attempt declined", nil
		}
		evidence.Reason = "charge_failed:" + ev.DeclineCode
		evidence.TransactionID = ""
		note, err := u.transition(ctx, res.accountID, model.SubscriptionStatusExpired, evidence, ev)
		if err == nil {
			u.notifyAccount(ctx, res.accountID, adapter.NotifyPaymentFailed, nil)
		}
		return note, err

	case model.EventSubscriptionCancelled:
		evidence.TransactionID = ""
		evidence.AccessUntil = ev.PeriodEnd
		note, err := u.transition(ctx, res.accountID, model.SubscriptionStatusCancelled, evidence, ev)
		if err == nil {
			u.notifyAccount(ctx, res.accountID, adapter.NotifySubscriptionCancelled, nil)
		}
		return note, err

	case model.EventSubscriptionExpired:
		evidence.TransactionID = ""
		note, err := u.transition(ctx, res.accountID, model.SubscriptionStatusExpired, evidence, ev)
		if err == nil {
			u.notifyAccount(ctx, res.accountID, adapter.NotifySubscriptionExpired, nil)
		}
		return note, err

	case model.EventRefundIssued:
		return u.applyRefund(ctx, ev, res.accountID)
	}
	return "", domain.ErrUnknownEvent
}

func (u *webhookUC) transition(ctx context.Context, accountID string, to model.SubscriptionStatus, evidence model.Evidence, ev *model.ProviderEvent) (string, error) {
	rec, changed, err := u.ledger.Transition(ctx, accountID, to, evidence)
	if err != nil {
		return "", err
	}
	if !changed {
		return "no-op, record " + string(rec.Status), nil
	}
	return fmt.Sprintf("%s via %s", rec.Status, ev.RawType), nil
}

func (u *webhookUC) periodEnd(ev *model.ProviderEvent, now time.Time) *time.Time {
	if ev.PeriodEnd != nil {
		return ev.PeriodEnd
	}
	return ptr(now.Add(u.opts.BillingPeriod))
}

func (u *webhookUC) recordPayment(ctx context.Context, ev *model.ProviderEvent, accountID string, kind model.PaymentKind, status model.PaymentStatus) {
	if ev.TransactionID == "" || ev.Amount <= 0 {
		return
	}
	now := u.now()
	p := &model.Payment{
		AccountID:     accountID,
		Provider:      ev.Provider,
		TransactionID: ev.TransactionID,
		Kind:          kind,
		Amount:        ev.Amount,
		Currency:      ev.Currency,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := u.payments.Save(ctx, repository.NoTX, p)
	switch {
	case err == nil:
		metrics.AddPaymentRevenue(ev.Currency, ev.Amount)
	case errors.Is(err, domain.ErrAlreadyExists):
	default:
		logging.With(ctx, u.log).Error().Err(err).Msg("payment not recorded")
	}
}

// applyRefund books the refund; a full refund of the charge behind current access ends it.
func (u *webhookUC) applyRefund(ctx context.Context, ev *model.ProviderEvent, accountID string) (string, error) {
	var (
		note     string
		fullLast bool
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.payments.FindByTransactionID(ctx, tx, ev.Provider, ev.TransactionID)
		if errors.Is(err, domain.ErrNotFound) {
			note = "refund for unknown transaction"
			return nil
		}
		if err != nil {
			return err
		}
		amount := ev.Amount
		if amount <= 0 || amount > p.Refundable() {
			amount = p.Refundable()
		}
		if amount == 0 {
			note = "refund already booked"
			return nil
		}
		p.ApplyRefund(amount)
		if err := u.payments.UpdateRefund(ctx, tx, p); err != nil {
			return err
		}
		note = fmt.Sprintf("refund %d booked, payment %s", amount, p.Status)

		rec, err := u.subs.FindByAccount(ctx, tx, accountID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		fullLast = p.Status == model.PaymentStatusRefunded && rec != nil &&
			rec.LastTransactionID != nil && *rec.LastTransactionID == p.TransactionID
		return nil
	})
	if err != nil {
		return "", err
	}
	if fullLast {
		_, _, err := u.ledger.Transition(ctx, accountID, model.SubscriptionStatusExpired, model.Evidence{
			EventID: ev.EventID,
			Source:  model.SourceWebhook,
			Reason:  "refunded",
		})
		if err != nil && !errors.Is(err, domain.ErrConflictingState) {
			return "", err
		}
		note += ", access revoked"
	}
	u.notifyAccount(ctx, accountID, adapter.NotifyRefundIssued, nil)
	return note, nil
}

func (u *webhookUC) notifyAccount(ctx context.Context, accountID string, event adapter.NotificationEvent, data map[string]string) {
	acct, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return
	}
	notifyAsync(ctx, u.notifier, u.log, adapter.Notification{Event: event, To: acct.Email, Name: acct.DisplayName, Data: data})
}

func (u *webhookUC) ListEvents(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
	return u.events.List(ctx, repository.NoTX, provider, status, limit)
}
