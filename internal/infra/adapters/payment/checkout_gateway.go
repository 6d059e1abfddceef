// File: internal/infra/adapters/payment/checkout_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*CheckoutAdapter)(nil)

const CheckoutName = "checkout"

// CheckoutAdapter implements adapter.ProviderAdapter against the Checkout.com REST API.
// It has no subscription object: the service stores the instrument and charges it itself.
type CheckoutAdapter struct {
	secretKey string
	channelID string
	baseURL   string
	client    *http.Client
}

func NewCheckoutAdapter(secretKey, baseURL, processingChannelID string, timeout time.Duration) (*CheckoutAdapter, error) {
	if secretKey == "" {
		return nil, errors.New("checkout secret key empty")
	}
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid checkout base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CheckoutAdapter{
		secretKey: secretKey,
		channelID: processingChannelID,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *CheckoutAdapter) Name() string { return CheckoutName }

func (c *CheckoutAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{StepUp: true}
}

// ckoPayment is the subset of the payment resource the adapter reads.
type ckoPayment struct {
	ID           string `json:"id"`
	ActionID     string `json:"action_id"`
	Status       string `json:"status"`
	Approved     bool   `json:"approved"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reference    string `json:"reference"`
	ResponseCode string `json:"response_code"`
	Source       struct {
		ID string `json:"id"`
	} `json:"source"`
	Metadata map[string]string `json:"metadata"`
	Links    struct {
		Redirect struct {
			Href string `json:"href"`
		} `json:"redirect"`
	} `json:"_links"`
}

// ckoError is the body of a 4xx response.
type ckoError struct {
	RequestID  string   `json:"request_id"`
	ErrorType  string   `json:"error_type"`
	ErrorCodes []string `json:"error_codes"`
}

func (c *CheckoutAdapter) EnsureCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	body := map[string]any{
		"email":    req.Email,
		"metadata": map[string]string{"account_id": req.AccountID},
	}
	if req.Name != "" {
		body["name"] = req.Name
	}
	var out struct {
		ID string `json:"id"`
	}
	status, err := c.do(ctx, "ensure_customer", http.MethodPost, "/customers", req.IdempotencyKey, body, &out)
	if status == http.StatusConflict {
		// The email is already registered; customers are addressable by email.
		_, err = c.do(ctx, "ensure_customer", http.MethodGet, "/customers/"+url.PathEscape(req.Email), "", nil, &out)
	}
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// Tokenize accepts a Frames card token as is and exchanges wallet payloads for one.
func (c *CheckoutAdapter) Tokenize(ctx context.Context, req adapter.TokenizeRequest) (string, error) {
	ref := strings.TrimSpace(req.CardSessionRef)
	if strings.HasPrefix(ref, "tok_") || strings.HasPrefix(ref, "src_") {
		return ref, nil
	}
	var wallet struct {
		Type      string          `json:"type"`
		TokenData json.RawMessage `json:"token_data"`
	}
	if err := json.Unmarshal([]byte(ref), &wallet); err != nil || wallet.Type == "" || len(wallet.TokenData) == 0 {
		return "", domain.Permanent(CheckoutName, "tokenize", 0, "invalid_card_session", domain.ErrInvalidArgument)
	}
	var out struct {
		Token string `json:"token"`
	}
	if _, err := c.do(ctx, "tokenize", http.MethodPost, "/tokens", "", wallet, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *CheckoutAdapter) Authorize(ctx context.Context, req adapter.AuthorizeRequest) (adapter.AuthorizeResult, error) {
	source := map[string]any{"type": "token", "token": req.FastTokenSessionRef}
	if req.TokenRef != "" {
		source = map[string]any{"type": "id", "id": req.TokenRef}
	}
	body := map[string]any{
		"source":               source,
		"amount":               req.Amount,
		"currency":             strings.ToUpper(req.Currency),
		"reference":            req.Reference,
		"payment_type":         "Regular",
		"capture":              true,
		"store_for_future_use": true,
		"3ds":                  map[string]any{"enabled": true},
		"metadata":             map[string]string{"order_id": req.Reference},
	}
	if req.CustomerEmail != "" {
		body["customer"] = map[string]string{"email": req.CustomerEmail}
	}
	if req.Return.Success != "" {
		body["success_url"] = req.Return.Success
	}
	if req.Return.Failure != "" {
		body["failure_url"] = req.Return.Failure
	}
	c.withChannel(body)

	var p ckoPayment
	if _, err := c.do(ctx, "authorize", http.MethodPost, "/payments", req.IdempotencyKey, body, &p); err != nil {
		return adapter.AuthorizeResult{}, err
	}
	res := adapter.AuthorizeResult{TransactionID: p.ID, ContinuationRef: p.ID, TokenRef: p.Source.ID}
	switch {
	case p.Status == "Pending" && p.Links.Redirect.Href != "":
		res.Outcome = adapter.OutcomeRequiresStepUp
		res.StepUpURL = p.Links.Redirect.Href
	case p.Approved:
		res.Outcome = adapter.OutcomeApproved
	default:
		res.Outcome = adapter.OutcomeDeclined
		res.DeclineCode = p.ResponseCode
	}
	return res, nil
}

// Confirm reads the payment back; a session id from the redirect works as well as the payment id.
func (c *CheckoutAdapter) Confirm(ctx context.Context, continuationRef string) (adapter.ConfirmResult, error) {
	var p ckoPayment
	if _, err := c.do(ctx, "confirm", http.MethodGet, "/payments/"+url.PathEscape(continuationRef), "", nil, &p); err != nil {
		return adapter.ConfirmResult{}, err
	}
	res := adapter.ConfirmResult{
		TransactionID: p.ID,
		TokenRef:      p.Source.ID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Reference:     p.Reference,
		DeclineCode:   p.ResponseCode,
	}
	switch p.Status {
	case "Authorized", "Captured", "Partially Captured", "Card Verified":
		res.Outcome = adapter.OutcomeApproved
	case "Pending":
		res.Outcome = adapter.OutcomePending
	default:
		res.Outcome = adapter.OutcomeDeclined
		if res.DeclineCode == "" {
			res.DeclineCode = strings.ToLower(p.Status)
		}
	}
	return res, nil
}

func (c *CheckoutAdapter) ChargeStoredToken(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeResult, error) {
	paymentType := "Unscheduled"
	if req.ReasonCode == "recurring" {
		paymentType = "Recurring"
	}
	body := map[string]any{
		"source":             map[string]string{"type": "id", "id": req.TokenRef},
		"amount":             req.Amount,
		"currency":           strings.ToUpper(req.Currency),
		"reference":          req.Reference,
		"payment_type":       paymentType,
		"merchant_initiated": true,
		"capture":            true,
		"metadata":           map[string]string{"reason": req.ReasonCode},
	}
	if req.CustomerRef != "" {
		body["customer"] = map[string]string{"id": req.CustomerRef}
	}
	c.withChannel(body)

	var p ckoPayment
	if _, err := c.do(ctx, "charge", http.MethodPost, "/payments", req.IdempotencyKey, body, &p); err != nil {
		return adapter.ChargeResult{}, err
	}
	if !p.Approved {
		return adapter.ChargeResult{Outcome: adapter.OutcomeDeclined, TransactionID: p.ID, DeclineCode: p.ResponseCode}, nil
	}
	return adapter.ChargeResult{Outcome: adapter.OutcomeApproved, TransactionID: p.ID}, nil
}

func (c *CheckoutAdapter) CreateNativeSubscription(context.Context, adapter.NativeSubscriptionRequest) (adapter.NativeSubscription, error) {
	return adapter.NativeSubscription{}, domain.Permanent(CheckoutName, "create_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (c *CheckoutAdapter) FindNativeSubscription(context.Context, string) (*adapter.NativeSubscription, error) {
	return nil, domain.Permanent(CheckoutName, "find_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (c *CheckoutAdapter) CancelNativeSubscription(context.Context, string) error {
	return domain.Permanent(CheckoutName, "cancel_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (c *CheckoutAdapter) DeleteToken(ctx context.Context, tokenRef string) error {
	status, err := c.do(ctx, "delete_token", http.MethodDelete, "/instruments/"+url.PathEscape(tokenRef), "", nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *CheckoutAdapter) Refund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	body := map[string]any{"amount": req.Amount, "reference": req.Reference}
	var out struct {
		ActionID  string `json:"action_id"`
		Reference string `json:"reference"`
	}
	path := "/payments/" + url.PathEscape(req.TransactionID) + "/refunds"
	if _, err := c.do(ctx, "refund", http.MethodPost, path, req.IdempotencyKey, body, &out); err != nil {
		return adapter.RefundResult{}, err
	}
	return adapter.RefundResult{RefundID: out.ActionID, Status: "accepted"}, nil
}

func (c *CheckoutAdapter) withChannel(body map[string]any) {
	if c.channelID != "" {
		body["processing_channel_id"] = c.channelID
	}
}

// do sends one JSON request. It returns the HTTP status (0 when the request never completed)
// and a *domain.ProviderError for anything outside 2xx.
func (c *CheckoutAdapter) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, domain.Permanent(CheckoutName, op, 0, "encode", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, domain.Permanent(CheckoutName, op, 0, "request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Cko-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, domain.Transient(CheckoutName, op, 0, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, domain.Transient(CheckoutName, op, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ce ckoError
		_ = json.Unmarshal(raw, &ce)
		code := ce.ErrorType
		if len(ce.ErrorCodes) > 0 {
			code = strings.Join(ce.ErrorCodes, ",")
		}
		cause := fmt.Errorf("http %d request_id=%s", resp.StatusCode, ce.RequestID)
		if domain.ClassifyStatus(resp.StatusCode) == domain.ProviderTransient {
			return resp.StatusCode, domain.Transient(CheckoutName, op, resp.StatusCode, cause)
		}
		return resp.StatusCode, domain.Permanent(CheckoutName, op, resp.StatusCode, code, cause)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, domain.Permanent(CheckoutName, op, resp.StatusCode, "decode", err)
		}
	}
	return resp.StatusCode, nil
}
