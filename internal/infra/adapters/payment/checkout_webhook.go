// File: internal/infra/adapters/payment/checkout_webhook.go
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.WebhookTranslator = (*CheckoutWebhookTranslator)(nil)

// CheckoutWebhookTranslator verifies Cko-Signature (hex HMAC-SHA256 of the raw body).
type CheckoutWebhookTranslator struct {
	secret []byte
}

func NewCheckoutWebhookTranslator(secret string) (*CheckoutWebhookTranslator, error) {
	if secret == "" {
		return nil, errors.New("checkout webhook secret empty")
	}
	return &CheckoutWebhookTranslator{secret: []byte(secret)}, nil
}

func (t *CheckoutWebhookTranslator) Name() string { return CheckoutName }

// SignCheckoutPayload computes the Cko-Signature value for body.
func SignCheckoutPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (t *CheckoutWebhookTranslator) verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, t.secret)
	h.Write(body)
	return hmac.Equal(h.Sum(nil), got)
}

type ckoEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedOn time.Time `json:"created_on"`
	Data      struct {
		ID           string `json:"id"`
		ActionID     string `json:"action_id"`
		Amount       int64  `json:"amount"`
		Currency     string `json:"currency"`
		Reference    string `json:"reference"`
		ResponseCode string `json:"response_code"`
		Source       struct {
			ID string `json:"id"`
		} `json:"source"`
		Customer struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"customer"`
		Metadata map[string]string `json:"metadata"`
	} `json:"data"`
}

func (t *CheckoutWebhookTranslator) Translate(payload []byte, header http.Header) (*model.ProviderEvent, error) {
	if !t.verify(payload, header.Get("Cko-Signature")) {
		return nil, domain.ErrInvalidSignature
	}
	var in ckoEvent
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("checkout event payload: %w", err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("checkout event without id: %w", domain.ErrInvalidArgument)
	}

	ev := &model.ProviderEvent{
		Provider:      CheckoutName,
		EventID:       in.ID,
		RawType:       in.Type,
		Kind:          model.EventUnknown,
		TransactionID: in.Data.ID,
		TokenRef:      in.Data.Source.ID,
		CustomerRef:   in.Data.Customer.ID,
		Email:         in.Data.Customer.Email,
		Amount:        in.Data.Amount,
		Currency:      strings.ToUpper(in.Data.Currency),
		DeclineCode:   in.Data.ResponseCode,
		OccurredAt:    in.CreatedOn.UTC(),
	}
	// Only checkout authorizations carry our order id; renewals carry their idempotency reference.
	if in.Data.Metadata != nil {
		ev.OrderRef = in.Data.Metadata["order_id"]
	}

	switch in.Type {
	case "payment_captured":
		ev.Kind = model.EventChargeSucceeded
	case "payment_declined", "payment_capture_declined", "payment_expired":
		ev.Kind = model.EventChargeFailed
	case "payment_refunded":
		ev.Kind = model.EventRefundIssued
	}
	return ev, nil
}
