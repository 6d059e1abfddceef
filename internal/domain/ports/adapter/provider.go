package adapter

import (
	"context"
	"time"
)

// Outcome is the tag of every provider result.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeRequiresStepUp Outcome = "requires_step_up"
	OutcomeDeclined       Outcome = "declined"
	OutcomePending        Outcome = "pending"
)

// Capabilities tells the orchestrator which flow a provider supports.
type Capabilities struct {
	// NativeSubscriptions: the provider owns trial and recurring billing.
	NativeSubscriptions bool
	// StepUp: authorizations may require an out-of-band challenge.
	StepUp bool
}

type CustomerRequest struct {
	AccountID      string
	Email          string
	Name           string
	IdempotencyKey string
}

// TokenizeRequest exchanges a client-side capture for a stored instrument.
type TokenizeRequest struct {
	CardSessionRef string
	// CustomerRef is required by providers that attach instruments to a customer.
	CustomerRef string
}

type ReturnURLs struct {
	Success string
	Failure string
}

type AuthorizeRequest struct {
	Amount   int64
	Currency string
	// Exactly one of TokenRef or FastTokenSessionRef is set.
	TokenRef            string
	FastTokenSessionRef string
	Reference           string // our order id
	CustomerEmail       string
	Return              ReturnURLs
	IdempotencyKey      string
}

// AuthorizeResult is a tagged variant: Approved | RequiresStepUp | Declined.
type AuthorizeResult struct {
	Outcome         Outcome
	StepUpURL       string
	ContinuationRef string
	TransactionID   string
	TokenRef        string
	DeclineCode     string
}

// ConfirmResult is Approved (funds captured) | Declined | Pending (challenge not finished).
type ConfirmResult struct {
	Outcome       Outcome
	TransactionID string
	TokenRef      string
	Amount        int64
	Currency      string
	Reference     string
	DeclineCode   string
}

type ChargeRequest struct {
	TokenRef       string
	CustomerRef    string
	Amount         int64
	Currency       string
	ReasonCode     string // e.g. "recurring", "admin"
	Reference      string
	IdempotencyKey string
}

// ChargeResult is Approved | Declined.
type ChargeResult struct {
	Outcome       Outcome
	TransactionID string
	DeclineCode   string
}

type NativeSubscriptionRequest struct {
	CustomerRef    string
	TokenRef       string
	PlanRef        string
	TrialDays      int
	AccountID      string
	IdempotencyKey string
}

type NativeSubscription struct {
	SubscriptionRef string
	Status          string // provider vocabulary, e.g. trialing, active
	Trialing        bool
	TrialEndsAt     *time.Time
	PeriodEnd       *time.Time
	TokenRef        string
}

type RefundRequest struct {
	TransactionID  string
	Amount         int64
	Reference      string
	IdempotencyKey string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// ProviderAdapter normalizes one payment processor. Adapters only talk to the network;
// persistence belongs to the callers. Declines are returned inside results, while
// anything else is a *domain.ProviderError (transient or permanent).
type ProviderAdapter interface {
	Name() string
	Capabilities() Capabilities

	EnsureCustomer(ctx context.Context, req CustomerRequest) (customerRef string, err error)
	Tokenize(ctx context.Context, req TokenizeRequest) (tokenRef string, err error)
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResult, error)
	Confirm(ctx context.Context, continuationRef string) (ConfirmResult, error)
	ChargeStoredToken(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	CreateNativeSubscription(ctx context.Context, req NativeSubscriptionRequest) (NativeSubscription, error)
	// FindNativeSubscription returns the customer's live provider subscription, or nil.
	FindNativeSubscription(ctx context.Context, customerRef string) (*NativeSubscription, error)
	CancelNativeSubscription(ctx context.Context, subscriptionRef string) error
	DeleteToken(ctx context.Context, tokenRef string) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
