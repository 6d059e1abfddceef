package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/domain/ports/repository"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// Compile-time check
var _ AdminUseCase = (*adminUC)(nil)

type AdminChargeInput struct {
	AccountID string `validate:"required"`
	Amount    int64  `validate:"gt=0"`
	Reason    string `validate:"required,max=64"`
	// GrantAccess extends access by one billing period on success.
	GrantAccess bool
}

type AdminChargeResult struct {
	TransactionID string
	Record        *model.SubscriptionRecord
}

type AdminRefundInput struct {
	TransactionID string `validate:"required"`
	// Amount of zero refunds everything still refundable.
	Amount int64 `validate:"gte=0"`
}

// AccountView is the operator's picture of one account.
type AccountView struct {
	Account     *model.Account
	Record      *model.SubscriptionRecord
	HasAccess   bool
	Transitions []*model.Transition
	Payments    []*model.Payment
}

type AdminUseCase interface {
	Charge(ctx context.Context, in AdminChargeInput) (*AdminChargeResult, error)
	// Refund asks the provider for a refund. The payment is booked when the
	// provider's refund webhook arrives.
	Refund(ctx context.Context, in AdminRefundInput) (adapter.RefundResult, error)
	Cancel(ctx context.Context, accountID string) (*model.SubscriptionRecord, error)
	GetAccount(ctx context.Context, accountID string) (*AccountView, error)
}

type AdminOptions struct {
	Currency      string
	BillingPeriod time.Duration
	Retry         RetryPolicy
}

type adminUC struct {
	accounts  repository.AccountRepository
	payments  repository.PaymentRepository
	history   repository.TransitionRepository
	ledger    LedgerUseCase
	providers ProviderSet
	notifier  adapter.Notifier
	opts      AdminOptions
	validate  *validator.Validate
	log       *zerolog.Logger
	now       func() time.Time
}

func NewAdminUseCase(
	accounts repository.AccountRepository,
	payments repository.PaymentRepository,
	history repository.TransitionRepository,
	ledger LedgerUseCase,
	providers ProviderSet,
	notifier adapter.Notifier,
	opts AdminOptions,
	logger *zerolog.Logger,
) *adminUC {
	if opts.BillingPeriod <= 0 {
		opts.BillingPeriod = 30 * 24 * time.Hour
	}
	l := logger.With().Str("component", "admin").Logger()
	return &adminUC{
		accounts:  accounts,
		payments:  payments,
		history:   history,
		ledger:    ledger,
		providers: providers,
		notifier:  notifier,
		opts:      opts,
		validate:  validator.New(),
		log:       &l,
		now:       time.Now,
	}
}

func (u *adminUC) WithClock(now func() time.Time) *adminUC {
	u.now = now
	return u
}

func (u *adminUC) Charge(ctx context.Context, in AdminChargeInput) (*AdminChargeResult, error) {
	defer logging.TraceDuration(u.log, "AdminUC.Charge")()
	if err := u.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	ctx = logging.WithAccountID(ctx, in.AccountID)
	log := logging.With(ctx, u.log)

	acct, err := u.accounts.FindByID(ctx, repository.NoTX, in.AccountID)
	if err != nil {
		return nil, err
	}
	rec, err := u.ledger.GetByAccount(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if rec.ProviderTokenRef == nil || *rec.ProviderTokenRef == "" {
		return nil, fmt.Errorf("account has no stored token: %w", domain.ErrConflictingState)
	}
	provider, err := u.providers.Get(rec.Provider)
	if err != nil {
		return nil, err
	}

	var customerRef string
	if acct.CustomerRef != nil {
		customerRef = *acct.CustomerRef
	}
	key := "admin:" + model.NewOrderID()
	start := u.now()
	res, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (adapter.ChargeResult, error) {
		return provider.ChargeStoredToken(ctx, adapter.ChargeRequest{
			TokenRef:       *rec.ProviderTokenRef,
			CustomerRef:    customerRef,
			Amount:         in.Amount,
			Currency:       u.opts.Currency,
			ReasonCode:     in.Reason,
			Reference:      key,
			IdempotencyKey: key,
		})
	})
	observe(provider.Name(), "charge", start, res.Outcome, err)
	if err != nil {
		return nil, err
	}

	now := u.now()
	p := &model.Payment{
		AccountID:     acct.ID,
		Provider:      provider.Name(),
		TransactionID: res.TransactionID,
		Kind:          model.PaymentKindAdmin,
		Amount:        in.Amount,
		Currency:      u.opts.Currency,
		Status:        model.PaymentStatusSucceeded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if res.Outcome != adapter.OutcomeApproved {
		log.Info().Str("decline_code", res.DeclineCode).Msg("admin charge declined")
		if res.TransactionID != "" {
			p.Status = model.PaymentStatusDeclined
			p.DeclineCode = ptr(res.DeclineCode)
			if err := u.payments.Save(ctx, repository.NoTX, p); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				log.Error().Err(err).Msg("declined admin charge not recorded")
			}
		}
		return nil, &domain.DeclineError{Provider: provider.Name(), Code: res.DeclineCode}
	}

	if err := u.payments.Save(ctx, repository.NoTX, p); err == nil {
		metrics.AddPaymentRevenue(u.opts.Currency, in.Amount)
	} else if !errors.Is(err, domain.ErrAlreadyExists) {
		return nil, err
	}

	out := &AdminChargeResult{TransactionID: res.TransactionID, Record: rec}
	if in.GrantAccess {
		until := now.Add(u.opts.BillingPeriod)
		if rec.AccessUntil != nil && rec.AccessUntil.After(now) {
			until = rec.AccessUntil.Add(u.opts.BillingPeriod)
		}
		next, changed, err := u.ledger.Transition(ctx, acct.ID, model.SubscriptionStatusActive, model.Evidence{
			TransactionID: res.TransactionID,
			Provider:      provider.Name(),
			AccessUntil:   &until,
			Source:        model.SourceAdmin,
			Reason:        "admin_charge:" + in.Reason,
		})
		if err != nil {
			return nil, err
		}
		out.Record = next
		if changed {
			notifyAsync(ctx, u.notifier, u.log, adapter.Notification{
				Event: adapter.NotifySubscriptionRenewed,
				To:    acct.Email,
				Name:  acct.DisplayName,
				Data:  map[string]string{"until": dateLabel(next.AccessUntil)},
			})
		}
	}

	log.Info().Str("transaction_id", res.TransactionID).Int64("amount", in.Amount).Bool("grant_access", in.GrantAccess).Msg("admin charge captured")
	return out, nil
}

func (u *adminUC) Refund(ctx context.Context, in AdminRefundInput) (adapter.RefundResult, error) {
	defer logging.TraceDuration(u.log, "AdminUC.Refund")()
	if err := u.validate.Struct(in); err != nil {
		return adapter.RefundResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	p, err := u.payments.FindByTransactionIDAny(ctx, repository.NoTX, in.TransactionID)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	ctx = logging.WithAccountID(ctx, p.AccountID)

	refundable := p.Refundable()
	amount := in.Amount
	if amount == 0 {
		amount = refundable
	}
	if amount <= 0 || amount > refundable {
		return adapter.RefundResult{}, fmt.Errorf("%w: refund %d exceeds refundable %d", domain.ErrInvalidArgument, amount, refundable)
	}

	provider, err := u.providers.Get(p.Provider)
	if err != nil {
		return adapter.RefundResult{}, err
	}
	// Stable across retries of the same request, distinct after a partial refund is booked.
	key := fmt.Sprintf("refund:%s:%d:%d", p.TransactionID, p.RefundedAmount, amount)
	start := u.now()
	res, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (adapter.RefundResult, error) {
		return provider.Refund(ctx, adapter.RefundRequest{
			TransactionID:  p.TransactionID,
			Amount:         amount,
			Reference:      key,
			IdempotencyKey: key,
		})
	})
	observe(provider.Name(), "refund", start, "", err)
	if err != nil {
		return adapter.RefundResult{}, err
	}

	logging.With(ctx, u.log).Info().
		Str("transaction_id", p.TransactionID).
		Str("refund_id", res.RefundID).
		Int64("amount", amount).
		Msg("refund requested")
	return res, nil
}

// Cancel stops billing at the provider, then moves the record to cancelled.
// Access continues until the end of the paid period.
func (u *adminUC) Cancel(ctx context.Context, accountID string) (*model.SubscriptionRecord, error) {
	defer logging.TraceDuration(u.log, "AdminUC.Cancel")()
	ctx = logging.WithAccountID(ctx, accountID)
	log := logging.With(ctx, u.log)

	rec, err := u.ledger.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec.Status == model.SubscriptionStatusNone {
		return nil, &model.TransitionError{From: rec.Status, To: model.SubscriptionStatusCancelled, Reason: model.RejectNotSubscribed}
	}
	provider, err := u.providers.Get(rec.Provider)
	if err != nil {
		return nil, err
	}

	if rec.ProviderSubscriptionRef != nil && provider.Capabilities().NativeSubscriptions && rec.Status.IsLive() {
		start := u.now()
		_, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, provider.CancelNativeSubscription(ctx, *rec.ProviderSubscriptionRef)
		})
		observe(provider.Name(), "cancel_subscription", start, "", err)
		if err != nil {
			return nil, err
		}
	}

	deleted := false
	if rec.ProviderTokenRef != nil {
		start := u.now()
		_, err := callProvider(ctx, u.opts.Retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, provider.DeleteToken(ctx, *rec.ProviderTokenRef)
		})
		observe(provider.Name(), "delete_token", start, "", err)
		if err != nil {
			// Billing re-reads the record before charging, so a cancelled one is never charged.
			log.Warn().Err(err).Msg("stored token not deleted")
		} else {
			deleted = true
		}
	}

	next, changed, err := u.ledger.Transition(ctx, accountID, model.SubscriptionStatusCancelled, model.Evidence{
		Provider:     provider.Name(),
		AccessUntil:  rec.AccessUntil,
		TokenDeleted: deleted,
		Source:       model.SourceAdmin,
		Reason:       "admin_cancel",
	})
	if err != nil {
		return nil, err
	}
	if changed && next.Status == model.SubscriptionStatusCancelled && rec.Status.IsLive() {
		if acct, err := u.accounts.FindByID(ctx, repository.NoTX, accountID); err == nil {
			notifyAsync(ctx, u.notifier, u.log, adapter.Notification{
				Event: adapter.NotifySubscriptionCancelled,
				To:    acct.Email,
				Name:  acct.DisplayName,
				Data:  map[string]string{"until": dateLabel(next.AccessUntil)},
			})
		}
	}
	return next, nil
}

func (u *adminUC) GetAccount(ctx context.Context, accountID string) (*AccountView, error) {
	acct, err := u.accounts.FindByID(ctx, repository.NoTX, accountID)
	if err != nil {
		return nil, err
	}
	rec, err := u.ledger.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	history, err := u.history.ListByAccount(ctx, repository.NoTX, accountID, 20)
	if err != nil {
		return nil, err
	}
	payments, err := u.payments.ListByAccount(ctx, repository.NoTX, accountID, 20)
	if err != nil {
		return nil, err
	}
	return &AccountView{
		Account:     acct,
		Record:      rec,
		HasAccess:   rec.HasAccess(u.now()),
		Transitions: history,
		Payments:    payments,
	}, nil
}
