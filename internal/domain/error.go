package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Payment taxonomy
	ErrDeclined          = errors.New("payment declined")
	ErrProviderTransient = errors.New("provider temporarily unavailable")
	ErrProviderPermanent = errors.New("provider rejected the request")
	ErrConflictingState  = errors.New("conflicting subscription state")
	ErrUnknownEvent      = errors.New("unknown provider event")

	// Flow errors
	ErrRiskBlocked        = errors.New("checkout blocked by risk gate")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrUnsupported        = errors.New("operation not supported by provider")
	ErrUnresolvedAccount  = errors.New("event does not resolve to an account")
)

// ProviderKind classifies a provider failure for retry decisions.
type ProviderKind int

const (
	ProviderTransient ProviderKind = iota
	ProviderPermanent
)

// ProviderError is returned by adapters for anything that is not a decline.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Code     string
	Kind     ProviderKind
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Provider, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	kind := ErrProviderTransient
	if e.Kind == ProviderPermanent {
		kind = ErrProviderPermanent
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// Transient builds a retryable provider error.
func Transient(provider, op string, status int, err error) error {
	return &ProviderError{Provider: provider, Op: op, Status: status, Kind: ProviderTransient, Err: err}
}

// Permanent builds a non-retryable provider error.
func Permanent(provider, op string, status int, code string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Status: status, Code: code, Kind: ProviderPermanent, Err: err}
}

// ClassifyStatus maps an HTTP status from a provider to the taxonomy.
// 408, 429 and 5xx are transient; everything else is permanent.
func ClassifyStatus(status int) ProviderKind {
	switch {
	case status == 408 || status == 429:
		return ProviderTransient
	case status >= 500:
		return ProviderTransient
	default:
		return ProviderPermanent
	}
}

// DeclineError carries a decline out of a flow. The code is for logs only.
type DeclineError struct {
	Provider string
	Code     string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("%s: payment declined (%s)", e.Provider, e.Code)
}

func (e *DeclineError) Unwrap() error { return ErrDeclined }
