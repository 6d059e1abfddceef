package model

import (
	"fmt"
	"time"

	"quiz-subscription-engine/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusNone      SubscriptionStatus = "none"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// rank orders statuses: none < trial|active < cancelled < expired.
func (s SubscriptionStatus) rank() int {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive:
		return 1
	case SubscriptionStatusCancelled:
		return 2
	case SubscriptionStatusExpired:
		return 3
	default:
		return 0
	}
}

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusNone, SubscriptionStatusTrial, SubscriptionStatusActive,
		SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

// IsLive reports trial or active.
func (s SubscriptionStatus) IsLive() bool { return s.rank() == 1 }

// IsTerminal reports cancelled or expired.
func (s SubscriptionStatus) IsTerminal() bool { return s.rank() >= 2 }

// TransitionSource names who asked for a transition.
type TransitionSource string

const (
	SourceCheckout  TransitionSource = "checkout"
	SourceWebhook   TransitionSource = "webhook"
	SourceScheduler TransitionSource = "scheduler"
	SourceAdmin     TransitionSource = "admin"
)

// SubscriptionRecord is the ledger row owned 1:1 by an Account.
type SubscriptionRecord struct {
	AccountID                string
	Status                   SubscriptionStatus
	Provider                 string
	ProviderTokenRef         *string
	ProviderSubscriptionRef  *string
	TrialEndsAt              *time.Time
	AccessUntil              *time.Time
	LastKnownProviderEventID *string
	LastTransactionID        *string
	Version                  int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// NewSubscriptionRecord returns the implicit record of an account that never paid.
func NewSubscriptionRecord(accountID string) *SubscriptionRecord {
	now := time.Now()
	return &SubscriptionRecord{
		AccountID: accountID,
		Status:    SubscriptionStatusNone,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasAccess is true while trial/active, and during the grace period of a cancellation.
func (r *SubscriptionRecord) HasAccess(now time.Time) bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case SubscriptionStatusTrial, SubscriptionStatusActive:
		return true
	case SubscriptionStatusCancelled:
		return r.AccessUntil != nil && r.AccessUntil.After(now)
	}
	return false
}

// Evidence backs a transition.
type Evidence struct {
	TransactionID   string
	Provider        string
	TokenRef        *string
	SubscriptionRef *string
	TrialEndsAt     *time.Time
	AccessUntil     *time.Time
	EventID         string
	Source          TransitionSource
	// TokenDeleted is set only after the provider confirmed the instrument is gone.
	TokenDeleted bool
	Reason       string
}

// TransitionError is a rejected transition; the record is left unchanged.
type TransitionError struct {
	From   SubscriptionStatus
	To     SubscriptionStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return domain.ErrConflictingState }

const (
	RejectMissingTransaction = "missing_transaction"
	RejectBoundaryNotFuture  = "boundary_not_in_future"
	RejectStaleCharge        = "stale_charge"
	RejectNotSubscribed      = "not_subscribed"
	RejectTrialAfterActive   = "trial_after_active"
	RejectInvalidTarget      = "invalid_target"
	RejectRenewalAfterEnd    = "renewal_after_end"
)

// Apply computes the record that results from moving to `to` with ev.
// fresh reports that ev.TransactionID was never applied to this account before.
// It returns changed=false for idempotent no-ops.
func (r SubscriptionRecord) Apply(to SubscriptionStatus, ev Evidence, fresh bool, now time.Time) (SubscriptionRecord, bool, error) {
	reject := func(reason string) (SubscriptionRecord, bool, error) {
		return r, false, &TransitionError{From: r.Status, To: to, Reason: reason}
	}

	if ev.EventID != "" && r.LastKnownProviderEventID != nil && *r.LastKnownProviderEventID == ev.EventID {
		return r, false, nil
	}

	next := r
	switch to {
	case SubscriptionStatusTrial, SubscriptionStatusActive:
		if ev.TransactionID == "" {
			return reject(RejectMissingTransaction)
		}
		boundary := ev.AccessUntil
		if to == SubscriptionStatusTrial {
			boundary = ev.TrialEndsAt
		}
		if boundary == nil || !boundary.After(now) {
			return reject(RejectBoundaryNotFuture)
		}
		if !fresh {
			if r.Status.IsLive() {
				return r, false, nil
			}
			return reject(RejectStaleCharge)
		}
		if r.Status == SubscriptionStatusActive && to == SubscriptionStatusTrial {
			return reject(RejectTrialAfterActive)
		}
		// Renewals only extend a live record; a new checkout or provider charge is needed after an end.
		if ev.Source == SourceScheduler && r.Status.IsTerminal() {
			return reject(RejectRenewalAfterEnd)
		}

		next.Status = to
		if to == SubscriptionStatusTrial {
			t := *ev.TrialEndsAt
			next.TrialEndsAt = &t
		}
		next.AccessUntil = later(r.AccessUntil, boundary)
		txn := ev.TransactionID
		next.LastTransactionID = &txn
		if ev.Provider != "" {
			next.Provider = ev.Provider
		}
		if ev.TokenRef != nil {
			tok := *ev.TokenRef
			next.ProviderTokenRef = &tok
		}
		if ev.SubscriptionRef != nil {
			ref := *ev.SubscriptionRef
			next.ProviderSubscriptionRef = &ref
		}

	case SubscriptionStatusCancelled:
		switch {
		case r.Status == SubscriptionStatusNone:
			return reject(RejectNotSubscribed)
		case r.Status.IsTerminal():
			// Already ended; only a confirmed instrument deletion is still news.
			if !ev.TokenDeleted || r.ProviderTokenRef == nil {
				return r, false, nil
			}
			next.ProviderTokenRef = nil
		default:
			next.Status = SubscriptionStatusCancelled
			next.AccessUntil = later(r.AccessUntil, ev.AccessUntil)
			if ev.TokenDeleted {
				next.ProviderTokenRef = nil
			}
		}

	case SubscriptionStatusExpired:
		switch r.Status {
		case SubscriptionStatusNone:
			return reject(RejectNotSubscribed)
		case SubscriptionStatusExpired:
			return r, false, nil
		}
		next.Status = SubscriptionStatusExpired

	default:
		return reject(RejectInvalidTarget)
	}

	if ev.EventID != "" {
		id := ev.EventID
		next.LastKnownProviderEventID = &id
	}
	next.Version = r.Version + 1
	next.UpdatedAt = now
	return next, true, nil
}

func later(cur, cand *time.Time) *time.Time {
	switch {
	case cur == nil && cand == nil:
		return nil
	case cur == nil:
		t := *cand
		return &t
	case cand == nil || !cand.After(*cur):
		t := *cur
		return &t
	default:
		t := *cand
		return &t
	}
}

// Transition is one applied ledger change, kept as history.
type Transition struct {
	ID            string
	AccountID     string
	From          SubscriptionStatus
	To            SubscriptionStatus
	TransactionID *string
	EventID       *string
	Source        TransitionSource
	Reason        string
	At            time.Time
}
