// File: internal/infra/adapters/payment/stripe_webhook.go
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.WebhookTranslator = (*StripeWebhookTranslator)(nil)

// StripeWebhookTranslator verifies the Stripe-Signature header and maps event types.
type StripeWebhookTranslator struct {
	secret    string
	tolerance time.Duration
}

func NewStripeWebhookTranslator(secret string) (*StripeWebhookTranslator, error) {
	if secret == "" {
		return nil, errors.New("stripe webhook secret empty")
	}
	return &StripeWebhookTranslator{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

func (t *StripeWebhookTranslator) Name() string { return StripeName }

func (t *StripeWebhookTranslator) Translate(payload []byte, header http.Header) (*model.ProviderEvent, error) {
	sig := header.Get("Stripe-Signature")
	if sig == "" {
		return nil, domain.ErrInvalidSignature
	}
	// The account's API version may differ from the SDK's; only the signature matters here.
	evt, err := webhook.ConstructEventWithOptions(payload, sig, t.secret, webhook.ConstructEventOptions{
		Tolerance:                t.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	ev := &model.ProviderEvent{
		Provider:   StripeName,
		EventID:    evt.ID,
		RawType:    string(evt.Type),
		Kind:       model.EventUnknown,
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data == nil {
		return ev, nil
	}

	switch evt.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe subscription payload: %w", err)
		}
		fillSubscription(ev, &sub)
		switch {
		case sub.Status == stripe.SubscriptionStatusTrialing:
			ev.Kind = model.EventSubscriptionActivated
			ev.Trialing = true
		case sub.Status == stripe.SubscriptionStatusActive && sub.CancelAtPeriodEnd:
			ev.Kind = model.EventSubscriptionCancelled
		case sub.Status == stripe.SubscriptionStatusActive:
			ev.Kind = model.EventSubscriptionActivated
		case sub.Status == stripe.SubscriptionStatusUnpaid, sub.Status == stripe.SubscriptionStatusIncompleteExpired:
			ev.Kind = model.EventSubscriptionExpired
		}

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("stripe subscription payload: %w", err)
		}
		fillSubscription(ev, &sub)
		ev.Kind = model.EventSubscriptionExpired

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("stripe invoice payload: %w", err)
		}
		fillInvoice(ev, &inv)
		switch {
		case evt.Type == "invoice.payment_failed":
			ev.Kind = model.EventChargeFailed
			ev.DeclineCode = "invoice_payment_failed"
		case inv.AmountPaid > 0:
			ev.Kind = model.EventChargeSucceeded
		}
		// Zero-amount invoices open a trial and carry no payment.

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("stripe charge payload: %w", err)
		}
		ev.Kind = model.EventRefundIssued
		ev.TransactionID = ch.ID
		if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
			ev.TransactionID = ch.PaymentIntent.ID
		}
		if ch.Customer != nil {
			ev.CustomerRef = ch.Customer.ID
		}
		if ch.BillingDetails != nil {
			ev.Email = ch.BillingDetails.Email
		}
		ev.Currency = strings.ToUpper(string(ch.Currency))
		// amount_refunded is cumulative; book only this event's share.
		ev.Amount = ch.AmountRefunded - previousInt(evt.Data.PreviousAttributes, "amount_refunded")
	}
	return ev, nil
}

func fillSubscription(ev *model.ProviderEvent, sub *stripe.Subscription) {
	ev.SubscriptionRef = sub.ID
	if sub.Customer != nil {
		ev.CustomerRef = sub.Customer.ID
		ev.Email = sub.Customer.Email
	}
	if sub.DefaultPaymentMethod != nil {
		ev.TokenRef = sub.DefaultPaymentMethod.ID
	}
	ev.TrialEndsAt = unixPtr(sub.TrialEnd)
	ev.PeriodEnd = unixPtr(sub.CurrentPeriodEnd)
}

func fillInvoice(ev *model.ProviderEvent, inv *stripe.Invoice) {
	ev.TransactionID = inv.ID
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		ev.TransactionID = inv.PaymentIntent.ID
	}
	if inv.Subscription != nil {
		ev.SubscriptionRef = inv.Subscription.ID
	}
	if inv.Customer != nil {
		ev.CustomerRef = inv.Customer.ID
	}
	ev.Email = inv.CustomerEmail
	ev.Amount = inv.AmountPaid
	ev.Currency = strings.ToUpper(string(inv.Currency))
	if inv.Lines != nil {
		for _, li := range inv.Lines.Data {
			if li.Period != nil {
				ev.PeriodEnd = unixPtr(li.Period.End)
				break
			}
		}
	}
}

func previousInt(prev map[string]interface{}, key string) int64 {
	if v, ok := prev[key].(float64); ok {
		return int64(v)
	}
	return 0
}
