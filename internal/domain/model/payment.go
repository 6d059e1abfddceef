package model

import "time"

type PaymentKind string

const (
	PaymentKindInitial   PaymentKind = "initial"   // captured by a checkout
	PaymentKindRecurring PaymentKind = "recurring" // merchant-initiated renewal
	PaymentKindAdmin     PaymentKind = "admin"     // operator charge
	PaymentKindNative    PaymentKind = "native"    // billed by the provider's own subscription
)

type PaymentStatus string

const (
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusDeclined          PaymentStatus = "declined"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Payment records one money movement at a provider.
type Payment struct {
	ID             string // UUID
	AccountID      string
	Provider       string
	TransactionID  string // provider transaction id; unique per provider
	Kind           PaymentKind
	Amount         int64 // minor units
	Currency       string
	Status         PaymentStatus
	RefundedAmount int64
	OrderID        *string
	DeclineCode    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Refundable is the amount still available to refund.
func (p *Payment) Refundable() int64 {
	if p.Status != PaymentStatusSucceeded && p.Status != PaymentStatusPartiallyRefunded {
		return 0
	}
	return p.Amount - p.RefundedAmount
}

// ApplyRefund books a refund of amount against the payment.
func (p *Payment) ApplyRefund(amount int64) {
	p.RefundedAmount += amount
	if p.RefundedAmount >= p.Amount {
		p.RefundedAmount = p.Amount
		p.Status = PaymentStatusRefunded
	} else {
		p.Status = PaymentStatusPartiallyRefunded
	}
	p.UpdatedAt = time.Now()
}
