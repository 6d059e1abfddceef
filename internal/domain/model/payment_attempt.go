package model

import (
	"time"

	"quiz-subscription-engine/internal/domain"

	"github.com/oklog/ulid/v2"
)

type AttemptStep string

const (
	AttemptStepCreated        AttemptStep = "created"
	AttemptStepStepUpPending  AttemptStep = "step_up_pending"
	AttemptStepCompleted      AttemptStep = "completed"
	AttemptStepFailed         AttemptStep = "failed"
	AttemptStepNativeComplete AttemptStep = "native_completed"
)

// IsFinal reports that no further provider round-trip is expected.
func (s AttemptStep) IsFinal() bool {
	return s == AttemptStepCompleted || s == AttemptStepFailed || s == AttemptStepNativeComplete
}

// PaymentAttempt tracks a single checkout pass. It is ephemeral and garbage-collected.
type PaymentAttempt struct {
	OrderID         string // client-visible order id (ULID)
	AccountID       string
	Provider        string
	Amount          int64 // minor units
	Currency        string
	Step            AttemptStep
	ContinuationRef *string
	TransactionID   *string
	LastResponse    string // normalized outcome of the last provider call
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrderID returns a sortable, URL-safe order id.
func NewOrderID() string {
	return ulid.Make().String()
}

func NewPaymentAttempt(accountID, provider string, amount int64, currency string) (*PaymentAttempt, error) {
	if accountID == "" || provider == "" || amount <= 0 || currency == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &PaymentAttempt{
		OrderID:   NewOrderID(),
		AccountID: accountID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Step:      AttemptStepCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Advance moves the attempt to step and records the last provider response.
func (a *PaymentAttempt) Advance(step AttemptStep, response string) {
	a.Step = step
	a.LastResponse = response
	a.UpdatedAt = time.Now()
}
