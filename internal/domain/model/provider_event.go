package model

import "time"

// EventKind is the provider-neutral meaning of a webhook.
type EventKind string

const (
	EventSubscriptionActivated EventKind = "subscription_activated"
	EventChargeSucceeded       EventKind = "charge_succeeded"
	EventChargeFailed          EventKind = "charge_failed"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventSubscriptionExpired   EventKind = "subscription_expired"
	EventRefundIssued          EventKind = "refund_issued"
	EventUnknown               EventKind = "unknown"
)

// GrantsAccess reports kinds that can move an account into trial/active.
func (k EventKind) GrantsAccess() bool {
	return k == EventSubscriptionActivated || k == EventChargeSucceeded
}

type EventStatus string

const (
	EventStatusReceived   EventStatus = "received"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusIgnored    EventStatus = "ignored"
	EventStatusUnresolved EventStatus = "unresolved"
	EventStatusFailed     EventStatus = "failed"
)

// ProviderEvent is a normalized inbound webhook. The raw body is kept sealed for audit.
type ProviderEvent struct {
	Provider        string
	EventID         string
	RawType         string
	Kind            EventKind
	TransactionID   string
	TokenRef        string
	SubscriptionRef string
	CustomerRef     string
	OrderRef        string // our PaymentAttempt order id, echoed back by the provider
	Email           string
	Amount          int64
	Currency        string
	// Trialing is set for activations that start a trial rather than a paid period.
	Trialing    bool
	TrialEndsAt *time.Time
	PeriodEnd   *time.Time
	DeclineCode string
	OccurredAt  time.Time

	SealedPayload string
	Status        EventStatus
	AccountID     *string
	Note          string
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
}
