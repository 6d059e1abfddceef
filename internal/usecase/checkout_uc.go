package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
	red "quiz-subscription-engine/internal/infra/redis"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

const (
	FlowNative = "native"
	FlowToken  = "token"
)

type CheckoutOutcome string

const (
	CheckoutTrialStarted   CheckoutOutcome = "trial_started"
	CheckoutStepUpRequired CheckoutOutcome = "step_up_required"
	CheckoutAlreadyActive  CheckoutOutcome = "already_active"
)

type StartCheckoutInput struct {
	Email       string `validate:"required,email,max=254"`
	DisplayName string `validate:"max=120"`
	// Amount is the first charge in minor units; only the token flow uses it.
	Amount int64 `validate:"gte=0"`
	// CardSessionRef is the client-side capture: a payment method id or a card/wallet token.
	CardSessionRef string `validate:"required,max=512"`
	Signals        adapter.Signals
}

type CheckoutResult struct {
	Outcome     CheckoutOutcome
	AccountID   string
	OrderID     string
	RedirectURL string
	Record      *model.SubscriptionRecord
}

type CheckoutUseCase interface {
	Start(ctx context.Context, in StartCheckoutInput) (*CheckoutResult, error)
	// Confirm resumes a step-up by its provider continuation reference.
	Confirm(ctx context.Context, continuationRef string) (*CheckoutResult, error)
	// CompleteAttempt confirms an attempt at the provider and grants the trial. It is idempotent.
	CompleteAttempt(ctx context.Context, orderID string) (*CheckoutResult, error)
}

type CheckoutOptions struct {
	Flow      string
	Currency  string
	TrialDays int
	MinAmount int64
	MaxAmount int64
	LockTTL   time.Duration
	// PlanRef is the provider price used by native subscriptions.
	PlanRef string
	// ConfirmURL receives the step-up redirect; FailureURL is shown on a failed challenge.
	ConfirmURL string
	FailureURL string
	Retry      RetryPolicy
}

type checkoutUC struct {
	accounts AccountUseCase
	ledger   LedgerUseCase
	attempts repository.PaymentAttemptRepository
	payments repository.PaymentRepository
	acctRepo repository.AccountRepository
	tm       repository.TransactionManager
	provider adapter.ProviderAdapter
	// others confirms attempts started before the active provider changed.
	others   ProviderSet
	risk     adapter.RiskGate
	notifier adapter.Notifier
	locker   red.Locker
	opts     CheckoutOptions
	validate *validator.Validate
	log      *zerolog.Logger
	now      func() time.Time
}

func NewCheckoutUseCase(
	accounts AccountUseCase,
	ledger LedgerUseCase,
	acctRepo repository.AccountRepository,
	attempts repository.PaymentAttemptRepository,
	payments repository.PaymentRepository,
	tm repository.TransactionManager,
	provider adapter.ProviderAdapter,
	risk adapter.RiskGate,
	notifier adapter.Notifier,
	locker red.Locker,
	opts CheckoutOptions,
	logger *zerolog.Logger,
) *checkoutUC {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.TrialDays <= 0 {
		opts.TrialDays = 7
	}
	l := logger.With().Str("component", "checkout").Logger()
	return &checkoutUC{
		accounts: accounts,
		ledger:   ledger,
		acctRepo: acctRepo,
		attempts: attempts,
		payments: payments,
		tm:       tm,
		provider: provider,
		risk:     risk,
		notifier: notifier,
		locker:   locker,
		opts:     opts,
		validate: validator.New(),
		log:      &l,
		now:      time.Now,
	}
}

func (u *checkoutUC) WithClock(now func() time.Time) *checkoutUC {
	u.now = now
	return u
}

func (u *checkoutUC) WithProviders(ps ProviderSet) *checkoutUC {
	u.others = ps
	return u
}

// attemptProvider returns the adapter the attempt was started with.
func (u *checkoutUC) attemptProvider(a *model.PaymentAttempt) (adapter.ProviderAdapter, error) {
	if a.Provider == "" || a.Provider == u.provider.Name() {
		return u.provider, nil
	}
	if p, ok := u.others[a.Provider]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("attempt %s was started with provider %q: %w", a.OrderID, a.Provider, domain.ErrConflictingState)
}

func (u *checkoutUC) Start(ctx context.Context, in StartCheckoutInput) (res *CheckoutResult, err error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.Start")()
	defer func() { metrics.IncCheckout(u.opts.Flow, checkoutMetricOutcome(res, err)) }()

	if err := u.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if u.opts.Flow == FlowToken && (in.Amount < u.opts.MinAmount || (u.opts.MaxAmount > 0 && in.Amount > u.opts.MaxAmount)) {
		return nil, fmt.Errorf("%w: amount out of range", domain.ErrInvalidArgument)
	}

	if u.risk != nil {
		verdict, rErr := u.risk.Validate(ctx, in.Email, in.Signals)
		if rErr != nil {
			u.log.Warn().Err(rErr).Msg("risk gate unavailable; allowing checkout")
		} else if verdict.Block {
			logging.With(ctx, u.log).Info().Strs("reasons", verdict.Reasons).Msg("checkout blocked by risk gate")
			return nil, domain.ErrRiskBlocked
		}
	}

	acct, err := u.accounts.EnsureByEmail(ctx, in.Email, in.DisplayName)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAccountID(ctx, acct.ID)

	rec, err := u.ledger.GetByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsLive() {
		return &CheckoutResult{Outcome: CheckoutAlreadyActive, AccountID: acct.ID, Record: rec}, nil
	}

	if u.opts.Flow == FlowNative {
		return u.startNative(ctx, acct, in)
	}
	return u.startToken(ctx, acct, in)
}

// startNative runs Flow A under a per-account lock so at most one provider subscription is created.
func (u *checkoutUC) startNative(ctx context.Context, acct *model.Account, in StartCheckoutInput) (*CheckoutResult, error) {
	if !u.provider.Capabilities().NativeSubscriptions {
		return nil, domain.ErrUnsupported
	}
	lockKey := "checkout:lock:" + acct.ID
	token, err := u.locker.TryLock(ctx, lockKey, u.opts.LockTTL)
	if err != nil {
		if errors.Is(err, red.ErrLockHeld) {
			return nil, domain.ErrCheckoutInProgress
		}
		return nil, err
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			u.log.Warn().Err(err).Str("key", lockKey).Msg("checkout unlock failed")
		}
	}()

	// Another request may have finished while we waited for the lock.
	rec, err := u.ledger.GetByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsLive() {
		return &CheckoutResult{Outcome: CheckoutAlreadyActive, AccountID: acct.ID, Record: rec}, nil
	}

	name := u.provider.Name()
	customerRef, err := u.ensureCustomer(ctx, acct)
	if err != nil {
		return nil, err
	}

	start := u.now()
	tokenRef, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (string, error) {
		return u.provider.Tokenize(ctx, adapter.TokenizeRequest{CardSessionRef: in.CardSessionRef, CustomerRef: customerRef})
	})
	observe(name, "tokenize", start, "", err)
	if err != nil {
		return nil, err
	}

	start = u.now()
	existing, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (*adapter.NativeSubscription, error) {
		return u.provider.FindNativeSubscription(ctx, customerRef)
	})
	observe(name, "find_subscription", start, "", err)
	if err != nil {
		return nil, err
	}

	var sub adapter.NativeSubscription
	if existing != nil {
		sub = *existing
		logging.With(ctx, u.log).Info().Str("subscription_ref", sub.SubscriptionRef).Msg("reusing provider subscription")
	} else {
		start = u.now()
		sub, err = callProvider(ctx, u.opts.Retry, func(ctx context.Context) (adapter.NativeSubscription, error) {
			return u.provider.CreateNativeSubscription(ctx, adapter.NativeSubscriptionRequest{
				CustomerRef:    customerRef,
				TokenRef:       tokenRef,
				PlanRef:        u.opts.PlanRef,
				TrialDays:      u.opts.TrialDays,
				AccountID:      acct.ID,
				IdempotencyKey: "subscription:" + acct.ID + ":" + tokenRef,
			})
		})
		observe(name, "create_subscription", start, "", err)
		if err != nil {
			return nil, err
		}
	}

	now := u.now()
	ev := model.Evidence{
		TransactionID:   sub.SubscriptionRef,
		Provider:        name,
		TokenRef:        ptr(tokenRef),
		SubscriptionRef: ptr(sub.SubscriptionRef),
		Source:          model.SourceCheckout,
		Reason:          "native_subscription",
	}
	to := model.SubscriptionStatusTrial
	switch {
	case sub.Trialing:
		ev.TrialEndsAt = sub.TrialEndsAt
		if ev.TrialEndsAt == nil {
			ev.TrialEndsAt = ptr(now.AddDate(0, 0, u.opts.TrialDays))
		}
	case sub.Status == "active":
		to = model.SubscriptionStatusActive
		ev.AccessUntil = sub.PeriodEnd
	default:
		logging.With(ctx, u.log).Info().Str("status", sub.Status).Msg("provider subscription not live")
		return nil, &domain.DeclineError{Provider: name, Code: sub.Status}
	}

	rec, _, err = u.ledger.Transition(ctx, acct.ID, to, ev)
	if err != nil {
		return nil, err
	}
	u.recordNativeAttempt(ctx, acct.ID, sub.SubscriptionRef, in.Amount)

	notifyAsync(ctx, u.notifier, u.log, adapter.Notification{
		Event: adapter.NotifyTrialStarted,
		To:    acct.Email,
		Name:  acct.DisplayName,
		Data:  map[string]string{"until": dateLabel(rec.AccessUntil)},
	})
	return &CheckoutResult{Outcome: CheckoutTrialStarted, AccountID: acct.ID, Record: rec}, nil
}

func (u *checkoutUC) ensureCustomer(ctx context.Context, acct *model.Account) (string, error) {
	if acct.CustomerRef != nil && *acct.CustomerRef != "" {
		return *acct.CustomerRef, nil
	}
	start := u.now()
	ref, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (string, error) {
		return u.provider.EnsureCustomer(ctx, adapter.CustomerRequest{
			AccountID:      acct.ID,
			Email:          acct.Email,
			Name:           acct.DisplayName,
			IdempotencyKey: "customer:" + acct.ID,
		})
	})
	observe(u.provider.Name(), "ensure_customer", start, "", err)
	if err != nil {
		return "", err
	}
	if err := u.acctRepo.SetCustomerRef(ctx, repository.NoTX, acct.ID, ref); err != nil {
		return "", err
	}
	acct.CustomerRef = &ref
	return ref, nil
}

// recordNativeAttempt keeps an audit row for Flow A passes; failures are only logged.
func (u *checkoutUC) recordNativeAttempt(ctx context.Context, accountID, subscriptionRef string, amount int64) {
	if amount <= 0 {
		return
	}
	a, err := model.NewPaymentAttempt(accountID, u.provider.Name(), amount, u.opts.Currency)
	if err != nil {
		return
	}
	a.TransactionID = &subscriptionRef
	a.Advance(model.AttemptStepNativeComplete, "subscription:"+subscriptionRef)
	if err := u.attempts.Save(ctx, repository.NoTX, a); err != nil {
		u.log.Warn().Err(err).Msg("native attempt not recorded")
	}
}

// startToken runs Flow B: tokenize, authorize, then either confirm or hand out the step-up redirect.
func (u *checkoutUC) startToken(ctx context.Context, acct *model.Account, in StartCheckoutInput) (*CheckoutResult, error) {
	name := u.provider.Name()
	attempt, err := model.NewPaymentAttempt(acct.ID, name, in.Amount, u.opts.Currency)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithOrderID(ctx, attempt.OrderID)
	if err := u.attempts.Save(ctx, repository.NoTX, attempt); err != nil {
		return nil, err
	}

	start := u.now()
	tokenRef, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (string, error) {
		return u.provider.Tokenize(ctx, adapter.TokenizeRequest{CardSessionRef: in.CardSessionRef})
	})
	observe(name, "tokenize", start, "", err)
	if err != nil {
		u.failAttempt(ctx, attempt, "tokenize_error")
		return nil, err
	}

	start = u.now()
	auth, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (adapter.AuthorizeResult, error) {
		return u.provider.Authorize(ctx, adapter.AuthorizeRequest{
			Amount:              attempt.Amount,
			Currency:            attempt.Currency,
			FastTokenSessionRef: tokenRef,
			Reference:           attempt.OrderID,
			CustomerEmail:       acct.Email,
			Return:              u.returnURLs(attempt.OrderID),
			IdempotencyKey:      "authorize:" + attempt.OrderID,
		})
	})
	observe(name, "authorize", start, auth.Outcome, err)
	if err != nil {
		u.failAttempt(ctx, attempt, "authorize_error")
		return nil, err
	}

	if auth.ContinuationRef != "" {
		attempt.ContinuationRef = ptr(auth.ContinuationRef)
	}
	switch auth.Outcome {
	case adapter.OutcomeDeclined:
		logging.With(ctx, u.log).Info().Str("decline_code", auth.DeclineCode).Msg("authorization declined")
		u.failAttempt(ctx, attempt, "declined:"+auth.DeclineCode)
		return nil, &domain.DeclineError{Provider: name, Code: auth.DeclineCode}

	case adapter.OutcomeRequiresStepUp:
		if auth.ContinuationRef == "" || auth.StepUpURL == "" {
			u.failAttempt(ctx, attempt, "step_up_incomplete")
			return nil, domain.Permanent(name, "authorize", 0, "step_up_incomplete", nil)
		}
		attempt.Advance(model.AttemptStepStepUpPending, string(auth.Outcome))
		if err := u.attempts.Save(ctx, repository.NoTX, attempt); err != nil {
			return nil, err
		}
		return &CheckoutResult{
			Outcome:     CheckoutStepUpRequired,
			AccountID:   acct.ID,
			OrderID:     attempt.OrderID,
			RedirectURL: auth.StepUpURL,
		}, nil

	case adapter.OutcomeApproved:
		// Frictionless: no challenge, confirm right away.
		if auth.ContinuationRef == "" {
			attempt.ContinuationRef = ptr(auth.TransactionID)
		}
		attempt.Advance(model.AttemptStepStepUpPending, "frictionless")
		if err := u.attempts.Save(ctx, repository.NoTX, attempt); err != nil {
			return nil, err
		}
		return u.CompleteAttempt(ctx, attempt.OrderID)
	}

	u.failAttempt(ctx, attempt, "unexpected_outcome")
	return nil, domain.Permanent(name, "authorize", 0, string(auth.Outcome), nil)
}

func (u *checkoutUC) returnURLs(orderID string) adapter.ReturnURLs {
	q := url.Values{"order": {orderID}}.Encode()
	return adapter.ReturnURLs{
		Success: withQuery(u.opts.ConfirmURL, q),
		Failure: withQuery(u.opts.FailureURL, q),
	}
}

func withQuery(base, q string) string {
	if base == "" {
		return ""
	}
	if u, err := url.Parse(base); err == nil && u.RawQuery != "" {
		return base + "&" + q
	}
	return base + "?" + q
}

func (u *checkoutUC) failAttempt(ctx context.Context, a *model.PaymentAttempt, response string) {
	a.Advance(model.AttemptStepFailed, response)
	if err := u.attempts.Save(ctx, repository.NoTX, a); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Msg("failed to persist failed attempt")
	}
}

func (u *checkoutUC) Confirm(ctx context.Context, continuationRef string) (*CheckoutResult, error) {
	if continuationRef == "" {
		return nil, domain.ErrInvalidArgument
	}
	attempt, err := u.attempts.FindByContinuationRef(ctx, repository.NoTX, continuationRef)
	if err != nil {
		return nil, err
	}
	return u.CompleteAttempt(ctx, attempt.OrderID)
}

func (u *checkoutUC) CompleteAttempt(ctx context.Context, orderID string) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.CompleteAttempt")()
	ctx = logging.WithOrderID(ctx, orderID)

	attempt, err := u.attempts.FindByOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithAccountID(ctx, attempt.AccountID)

	switch attempt.Step {
	case model.AttemptStepCompleted, model.AttemptStepNativeComplete:
		rec, err := u.ledger.GetByAccount(ctx, attempt.AccountID)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Outcome: CheckoutTrialStarted, AccountID: attempt.AccountID, OrderID: orderID, Record: rec}, nil
	case model.AttemptStepFailed:
		return nil, &domain.DeclineError{Provider: attempt.Provider, Code: attempt.LastResponse}
	}
	if attempt.ContinuationRef == nil {
		return nil, fmt.Errorf("attempt %s has no continuation: %w", orderID, domain.ErrConflictingState)
	}

	provider, err := u.attemptProvider(attempt)
	if err != nil {
		return nil, err
	}
	name := provider.Name()
	start := u.now()
	conf, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (adapter.ConfirmResult, error) {
		return provider.Confirm(ctx, *attempt.ContinuationRef)
	})
	observe(name, "confirm", start, conf.Outcome, err)
	if err != nil {
		// Transient failures leave the attempt pending for the reconciler.
		if errors.Is(err, domain.ErrProviderPermanent) {
			u.failAttempt(ctx, attempt, "confirm_error")
		}
		return nil, err
	}

	switch conf.Outcome {
	case adapter.OutcomePending:
		return nil, domain.ErrCheckoutInProgress
	case adapter.OutcomeDeclined:
		logging.With(ctx, u.log).Info().Str("decline_code", conf.DeclineCode).Msg("step-up declined")
		u.failAttempt(ctx, attempt, "declined:"+conf.DeclineCode)
		return nil, &domain.DeclineError{Provider: name, Code: conf.DeclineCode}
	case adapter.OutcomeApproved:
	default:
		return nil, domain.Permanent(name, "confirm", 0, string(conf.Outcome), nil)
	}

	txnID := conf.TransactionID
	if txnID == "" {
		txnID = *attempt.ContinuationRef
	}
	now := u.now()
	trialEnds := now.AddDate(0, 0, u.opts.TrialDays)
	ev := model.Evidence{
		TransactionID: txnID,
		Provider:      name,
		TrialEndsAt:   &trialEnds,
		Source:        model.SourceCheckout,
		Reason:        "step_up_confirmed",
	}
	if conf.TokenRef != "" {
		ev.TokenRef = ptr(conf.TokenRef)
	}

	var (
		rec     *model.SubscriptionRecord
		changed bool
		outcome = CheckoutTrialStarted
	)
	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		var tErr error
		rec, changed, tErr = u.ledger.TransitionTx(ctx, tx, attempt.AccountID, model.SubscriptionStatusTrial, ev)
		if tErr != nil {
			if !errors.Is(tErr, domain.ErrConflictingState) {
				return tErr
			}
			// The account went live through another path; keep the captured payment on file.
			outcome = CheckoutAlreadyActive
		}

		attempt.TransactionID = &txnID
		attempt.Advance(model.AttemptStepCompleted, string(conf.Outcome))
		if err := u.attempts.Save(ctx, tx, attempt); err != nil {
			return err
		}

		amount, currency := attempt.Amount, attempt.Currency
		if conf.Amount > 0 {
			amount, currency = conf.Amount, conf.Currency
		}
		p := &model.Payment{
			AccountID:     attempt.AccountID,
			Provider:      name,
			TransactionID: txnID,
			Kind:          model.PaymentKindInitial,
			Amount:        amount,
			Currency:      currency,
			Status:        model.PaymentStatusSucceeded,
			OrderID:       &attempt.OrderID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := u.payments.Save(ctx, tx, p); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
			return err
		} else if err == nil {
			metrics.AddPaymentRevenue(currency, amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if rec, err = u.ledger.GetByAccount(ctx, attempt.AccountID); err != nil {
			return nil, err
		}
	}

	if changed {
		if acct, err := u.accounts.Get(ctx, attempt.AccountID); err == nil {
			notifyAsync(ctx, u.notifier, u.log, adapter.Notification{
				Event: adapter.NotifyTrialStarted,
				To:    acct.Email,
				Name:  acct.DisplayName,
				Data:  map[string]string{"until": dateLabel(rec.AccessUntil)},
			})
		}
	}
	return &CheckoutResult{Outcome: outcome, AccountID: attempt.AccountID, OrderID: orderID, Record: rec}, nil
}

func checkoutMetricOutcome(res *CheckoutResult, err error) string {
	switch {
	case err == nil && res != nil:
		return string(res.Outcome)
	case errors.Is(err, domain.ErrDeclined):
		return "declined"
	case errors.Is(err, domain.ErrRiskBlocked):
		return "blocked"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return "in_progress"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
