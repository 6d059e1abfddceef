// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*StripeAdapter)(nil)

const StripeName = "stripe"

// StripeAdapter implements adapter.ProviderAdapter on top of stripe-go. Stripe owns trial
// and renewal billing, so the adapter supports native subscriptions as well as one-off
// PaymentIntents for step-up and merchant-initiated charges.
type StripeAdapter struct {
	api *client.API
}

type StripeOption func(*stripe.BackendConfig)

// WithStripeURL points the client at another API origin (tests use an httptest server).
func WithStripeURL(u string) StripeOption {
	return func(c *stripe.BackendConfig) { c.URL = stripe.String(u) }
}

func WithStripeHTTPClient(hc *http.Client) StripeOption {
	return func(c *stripe.BackendConfig) { c.HTTPClient = hc }
}

// NewStripeAdapter builds a client with SDK retries disabled; callers own the backoff.
func NewStripeAdapter(secretKey string, opts ...StripeOption) (*StripeAdapter, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	for _, o := range opts {
		o(cfg)
	}
	b := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
	api := client.New(secretKey, &stripe.Backends{API: b, Connect: b, Uploads: b})
	return &StripeAdapter{api: api}, nil
}

func (s *StripeAdapter) Name() string { return StripeName }

func (s *StripeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{NativeSubscriptions: true, StepUp: true}
}

func (s *StripeAdapter) EnsureCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(req.Email),
		Metadata: map[string]string{"account_id": req.AccountID},
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.Context = ctx
	setIdempotency(&params.Params, req.IdempotencyKey)
	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", stripeError("ensure_customer", err)
	}
	return c.ID, nil
}

// Tokenize attaches a Stripe.js payment method to the customer and returns its id.
func (s *StripeAdapter) Tokenize(ctx context.Context, req adapter.TokenizeRequest) (string, error) {
	if !strings.HasPrefix(req.CardSessionRef, "pm_") {
		return "", domain.Permanent(StripeName, "tokenize", 0, "invalid_payment_method", domain.ErrInvalidArgument)
	}
	if req.CustomerRef == "" {
		return req.CardSessionRef, nil
	}
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(req.CustomerRef)}
	params.Context = ctx
	pm, err := s.api.PaymentMethods.Attach(req.CardSessionRef, params)
	if err != nil {
		return "", stripeError("tokenize", err)
	}
	return pm.ID, nil
}

func (s *StripeAdapter) Authorize(ctx context.Context, req adapter.AuthorizeRequest) (adapter.AuthorizeResult, error) {
	pm := req.TokenRef
	if pm == "" {
		pm = req.FastTokenSessionRef
	}
	params := &stripe.PaymentIntentParams{
		Amount:           stripe.Int64(req.Amount),
		Currency:         stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod:    stripe.String(pm),
		Confirm:          stripe.Bool(true),
		SetupFutureUsage: stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession)),
		Metadata:         map[string]string{"order_id": req.Reference},
	}
	if req.Return.Success != "" {
		params.ReturnURL = stripe.String(req.Return.Success)
	}
	params.Context = ctx
	setIdempotency(&params.Params, req.IdempotencyKey)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		if code, ok := cardDecline(err); ok {
			return adapter.AuthorizeResult{Outcome: adapter.OutcomeDeclined, DeclineCode: code}, nil
		}
		return adapter.AuthorizeResult{}, stripeError("authorize", err)
	}

	res := adapter.AuthorizeResult{TransactionID: pi.ID, ContinuationRef: pi.ID, TokenRef: paymentMethodID(pi)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		// Processing settles asynchronously; Confirm reports pending until it does.
		res.Outcome = adapter.OutcomeApproved
	case stripe.PaymentIntentStatusRequiresAction:
		if pi.NextAction == nil || pi.NextAction.RedirectToURL == nil {
			return adapter.AuthorizeResult{}, domain.Permanent(StripeName, "authorize", 0, "unsupported_next_action", nil)
		}
		res.Outcome = adapter.OutcomeRequiresStepUp
		res.StepUpURL = pi.NextAction.RedirectToURL.URL
	default:
		res.Outcome = adapter.OutcomeDeclined
		res.DeclineCode = lastDecline(pi)
	}
	return res, nil
}

func (s *StripeAdapter) Confirm(ctx context.Context, continuationRef string) (adapter.ConfirmResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(continuationRef, params)
	if err != nil {
		return adapter.ConfirmResult{}, stripeError("confirm", err)
	}
	res := adapter.ConfirmResult{
		TransactionID: pi.ID,
		TokenRef:      paymentMethodID(pi),
		Amount:        pi.Amount,
		Currency:      strings.ToUpper(string(pi.Currency)),
		Reference:     pi.Metadata["order_id"],
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Outcome = adapter.OutcomeApproved
	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		res.Outcome = adapter.OutcomeDeclined
		res.DeclineCode = lastDecline(pi)
	default:
		res.Outcome = adapter.OutcomePending
	}
	return res, nil
}

func (s *StripeAdapter) ChargeStoredToken(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.TokenRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata:      map[string]string{"reason": req.ReasonCode, "reference": req.Reference},
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	params.Context = ctx
	setIdempotency(&params.Params, req.IdempotencyKey)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		if code, ok := cardDecline(err); ok {
			return adapter.ChargeResult{Outcome: adapter.OutcomeDeclined, TransactionID: declinedIntentID(err), DeclineCode: code}, nil
		}
		return adapter.ChargeResult{}, stripeError("charge", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		// Off-session charges cannot complete a challenge.
		return adapter.ChargeResult{Outcome: adapter.OutcomeDeclined, TransactionID: pi.ID, DeclineCode: string(pi.Status)}, nil
	}
	return adapter.ChargeResult{Outcome: adapter.OutcomeApproved, TransactionID: pi.ID}, nil
}

func (s *StripeAdapter) CreateNativeSubscription(ctx context.Context, req adapter.NativeSubscriptionRequest) (adapter.NativeSubscription, error) {
	if req.PlanRef == "" {
		return adapter.NativeSubscription{}, domain.Permanent(StripeName, "create_subscription", 0, "missing_price", domain.ErrInvalidArgument)
	}
	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(req.CustomerRef),
		DefaultPaymentMethod: stripe.String(req.TokenRef),
		Items:                []*stripe.SubscriptionItemsParams{{Price: stripe.String(req.PlanRef)}},
		PaymentBehavior:      stripe.String("allow_incomplete"),
		Metadata:             map[string]string{"account_id": req.AccountID},
	}
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	params.Context = ctx
	setIdempotency(&params.Params, req.IdempotencyKey)

	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		if code, ok := cardDecline(err); ok {
			return adapter.NativeSubscription{Status: "declined:" + code}, nil
		}
		return adapter.NativeSubscription{}, stripeError("create_subscription", err)
	}
	return nativeSubscription(sub), nil
}

func (s *StripeAdapter) FindNativeSubscription(ctx context.Context, customerRef string) (*adapter.NativeSubscription, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerRef)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)
	params.Single = true
	it := s.api.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		switch sub.Status {
		case stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusActive, stripe.SubscriptionStatusPastDue:
			out := nativeSubscription(sub)
			return &out, nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, stripeError("find_subscription", err)
	}
	return nil, nil
}

// CancelNativeSubscription stops renewal at period end; the customer keeps what they paid for.
func (s *StripeAdapter) CancelNativeSubscription(ctx context.Context, subscriptionRef string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := s.api.Subscriptions.Update(subscriptionRef, params); err != nil {
		if isResourceMissing(err) {
			return nil
		}
		return stripeError("cancel_subscription", err)
	}
	return nil
}

func (s *StripeAdapter) DeleteToken(ctx context.Context, tokenRef string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	if _, err := s.api.PaymentMethods.Detach(tokenRef, params); err != nil {
		if isResourceMissing(err) {
			return nil
		}
		return stripeError("delete_token", err)
	}
	return nil
}

func (s *StripeAdapter) Refund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	params := &stripe.RefundParams{
		Amount:   stripe.Int64(req.Amount),
		Metadata: map[string]string{"reference": req.Reference},
	}
	if strings.HasPrefix(req.TransactionID, "ch_") {
		params.Charge = stripe.String(req.TransactionID)
	} else {
		params.PaymentIntent = stripe.String(req.TransactionID)
	}
	params.Context = ctx
	setIdempotency(&params.Params, req.IdempotencyKey)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return adapter.RefundResult{}, stripeError("refund", err)
	}
	return adapter.RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

func setIdempotency(p *stripe.Params, key string) {
	if key != "" {
		p.SetIdempotencyKey(key)
	}
}

func nativeSubscription(sub *stripe.Subscription) adapter.NativeSubscription {
	out := adapter.NativeSubscription{
		SubscriptionRef: sub.ID,
		Status:          string(sub.Status),
		Trialing:        sub.Status == stripe.SubscriptionStatusTrialing,
		TrialEndsAt:     unixPtr(sub.TrialEnd),
		PeriodEnd:       unixPtr(sub.CurrentPeriodEnd),
	}
	if sub.DefaultPaymentMethod != nil {
		out.TokenRef = sub.DefaultPaymentMethod.ID
	}
	return out
}

func paymentMethodID(pi *stripe.PaymentIntent) string {
	if pi.PaymentMethod == nil {
		return ""
	}
	return pi.PaymentMethod.ID
}

func lastDecline(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError == nil {
		return string(pi.Status)
	}
	if pi.LastPaymentError.DeclineCode != "" {
		return string(pi.LastPaymentError.DeclineCode)
	}
	return string(pi.LastPaymentError.Code)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// cardDecline reports whether err is a card_error, which Stripe uses for declines.
func cardDecline(err error) (string, bool) {
	var se *stripe.Error
	if !errors.As(err, &se) || se.Type != stripe.ErrorTypeCard {
		return "", false
	}
	if se.DeclineCode != "" {
		return string(se.DeclineCode), true
	}
	return string(se.Code), true
}

func declinedIntentID(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) && se.PaymentIntent != nil {
		return se.PaymentIntent.ID
	}
	return ""
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing
}

// stripeError maps SDK failures onto the provider taxonomy. Errors without an HTTP
// status never reached Stripe and are retried.
func stripeError(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return domain.Transient(StripeName, op, 0, err)
	}
	if se.HTTPStatusCode == 0 || domain.ClassifyStatus(se.HTTPStatusCode) == domain.ProviderTransient {
		return domain.Transient(StripeName, op, se.HTTPStatusCode, errors.New(se.Msg))
	}
	return domain.Permanent(StripeName, op, se.HTTPStatusCode, string(se.Code), errors.New(se.Msg))
}
