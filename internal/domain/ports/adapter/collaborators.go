package adapter

import (
	"context"
	"net/http"

	"quiz-subscription-engine/internal/domain/model"
)

// WebhookTranslator verifies and normalizes one provider's webhooks.
type WebhookTranslator interface {
	Name() string
	// Translate checks the signature over the raw body before parsing it.
	// It returns domain.ErrInvalidSignature on a bad signature and an event with
	// Kind == model.EventUnknown for types it does not map.
	Translate(payload []byte, header http.Header) (*model.ProviderEvent, error)
}

// Signals are behavioural hints collected by the client before checkout.
type Signals struct {
	IP          string
	UserAgent   string
	FillMillis  int64 // time spent on the payment form
	Fingerprint string
}

type RiskVerdict struct {
	Block   bool
	Reasons []string
}

// RiskGate is consulted before a checkout starts.
type RiskGate interface {
	Validate(ctx context.Context, email string, signals Signals) (RiskVerdict, error)
}

type NotificationEvent string

const (
	NotifyTrialStarted          NotificationEvent = "trial_started"
	NotifySubscriptionRenewed   NotificationEvent = "subscription_renewed"
	NotifyPaymentFailed         NotificationEvent = "payment_failed"
	NotifySubscriptionCancelled NotificationEvent = "subscription_cancelled"
	NotifySubscriptionExpired   NotificationEvent = "subscription_expired"
	NotifyRefundIssued          NotificationEvent = "refund_issued"
)

type Notification struct {
	Event NotificationEvent
	To    string
	Name  string
	Data  map[string]string
}

// Notifier sends a templated notification. Callers treat it as fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sealer encrypts payloads kept for audit.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}
