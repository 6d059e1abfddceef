package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*NoopProvider)(nil)

const NoopName = "noop"

type noopPayment struct {
	amount   int64
	currency string
	ref      string
	token    string
	refunded int64
	declined bool
}

// NoopProvider is an in-memory token provider for local runs and tests.
// Card sessions starting with "decline" are declined and "3ds" ones require a step-up.
type NoopProvider struct {
	mu        sync.Mutex
	seq       int64
	stepUpURL string
	payments  map[string]*noopPayment
	tokens    map[string]bool
}

// NewNoopProvider sends simulated challenges straight to confirmURL with the payment as ref.
func NewNoopProvider(confirmURL string) *NoopProvider {
	return &NoopProvider{
		stepUpURL: confirmURL,
		payments:  make(map[string]*noopPayment),
		tokens:    make(map[string]bool),
	}
}

func (g *NoopProvider) Name() string { return NoopName }

func (g *NoopProvider) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{StepUp: true}
}

func (g *NoopProvider) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop_%d", prefix, g.seq)
}

func (g *NoopProvider) EnsureCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	return "cus_noop_" + req.AccountID, nil
}

func (g *NoopProvider) Tokenize(ctx context.Context, req adapter.TokenizeRequest) (string, error) {
	if req.CardSessionRef == "" {
		return "", domain.Permanent(NoopName, "tokenize", 0, "empty_session", domain.ErrInvalidArgument)
	}
	return req.CardSessionRef, nil
}

func (g *NoopProvider) Authorize(ctx context.Context, req adapter.AuthorizeRequest) (adapter.AuthorizeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session := req.FastTokenSessionRef
	if session == "" {
		session = req.TokenRef
	}
	id := g.next("pay")
	p := &noopPayment{amount: req.Amount, currency: req.Currency, ref: req.Reference, token: g.next("src")}
	g.payments[id] = p
	switch {
	case strings.HasPrefix(session, "decline"):
		p.declined = true
		return adapter.AuthorizeResult{Outcome: adapter.OutcomeDeclined, TransactionID: id, DeclineCode: "20051"}, nil
	case strings.HasPrefix(session, "3ds"):
		return adapter.AuthorizeResult{
			Outcome:         adapter.OutcomeRequiresStepUp,
			TransactionID:   id,
			ContinuationRef: id,
			StepUpURL:       g.stepUpURL + "?ref=" + id,
		}, nil
	}
	g.tokens[p.token] = true
	return adapter.AuthorizeResult{Outcome: adapter.OutcomeApproved, TransactionID: id, ContinuationRef: id, TokenRef: p.token}, nil
}

func (g *NoopProvider) Confirm(ctx context.Context, continuationRef string) (adapter.ConfirmResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[continuationRef]
	if !ok {
		return adapter.ConfirmResult{}, domain.Permanent(NoopName, "confirm", 404, "not_found", nil)
	}
	if p.declined {
		return adapter.ConfirmResult{Outcome: adapter.OutcomeDeclined, TransactionID: continuationRef, DeclineCode: "20051"}, nil
	}
	g.tokens[p.token] = true
	return adapter.ConfirmResult{
		Outcome:       adapter.OutcomeApproved,
		TransactionID: continuationRef,
		TokenRef:      p.token,
		Amount:        p.amount,
		Currency:      p.currency,
		Reference:     p.ref,
	}, nil
}

func (g *NoopProvider) ChargeStoredToken(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.tokens[req.TokenRef] {
		return adapter.ChargeResult{Outcome: adapter.OutcomeDeclined, DeclineCode: "token_invalid"}, nil
	}
	id := g.next("pay")
	g.payments[id] = &noopPayment{amount: req.Amount, currency: req.Currency, ref: req.Reference, token: req.TokenRef}
	return adapter.ChargeResult{Outcome: adapter.OutcomeApproved, TransactionID: id}, nil
}

func (g *NoopProvider) CreateNativeSubscription(context.Context, adapter.NativeSubscriptionRequest) (adapter.NativeSubscription, error) {
	return adapter.NativeSubscription{}, domain.Permanent(NoopName, "create_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (g *NoopProvider) FindNativeSubscription(context.Context, string) (*adapter.NativeSubscription, error) {
	return nil, domain.Permanent(NoopName, "find_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (g *NoopProvider) CancelNativeSubscription(context.Context, string) error {
	return domain.Permanent(NoopName, "cancel_subscription", 0, "unsupported", domain.ErrUnsupported)
}

func (g *NoopProvider) DeleteToken(ctx context.Context, tokenRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, tokenRef)
	return nil
}

func (g *NoopProvider) Refund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[req.TransactionID]
	if !ok {
		return adapter.RefundResult{}, domain.Permanent(NoopName, "refund", 404, "not_found", nil)
	}
	if p.refunded+req.Amount > p.amount {
		return adapter.RefundResult{}, domain.Permanent(NoopName, "refund", 422, "refund_amount_exceeds_balance", nil)
	}
	p.refunded += req.Amount
	return adapter.RefundResult{RefundID: g.next("act"), Status: "accepted"}, nil
}
