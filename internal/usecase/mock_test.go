//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/domain/ports/repository"
	red "quiz-subscription-engine/internal/infra/redis"
)

// -----------------------------
// Utilities
// -----------------------------

func strPtr(s string) *string                 { return &s }
func timePtr(t time.Time) *time.Time          { return &t }
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock AccountRepository ----

type MockAccountRepo struct {
	mu   sync.Mutex
	byID map[string]*model.Account

	SaveFunc           func(ctx context.Context, qx any, a *model.Account) error
	SetCustomerRefFunc func(ctx context.Context, qx any, id, ref string) error
}

var _ repository.AccountRepository = (*MockAccountRepo)(nil)

func NewMockAccountRepo() *MockAccountRepo {
	return &MockAccountRepo{byID: map[string]*model.Account{}}
}

func (m *MockAccountRepo) Save(ctx context.Context, qx any, a *model.Account) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.byID {
		if cur.ID != a.ID && cur.Email == model.NormalizeEmail(a.Email) {
			return domain.ErrAlreadyExists
		}
	}
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *MockAccountRepo) FindByID(ctx context.Context, qx any, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) FindByEmail(ctx context.Context, qx any, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == model.NormalizeEmail(email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAccountRepo) FindByCustomerRef(ctx context.Context, qx any, ref string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.CustomerRef != nil && *a.CustomerRef == ref {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAccountRepo) SetCustomerRef(ctx context.Context, qx any, id, ref string) error {
	if m.SetCustomerRefFunc != nil {
		return m.SetCustomerRefFunc(ctx, qx, id, ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.CustomerRef = &ref
	return nil
}

// seedAccount stores an account and returns it.
func (m *MockAccountRepo) seedAccount(id, email string) *model.Account {
	a, _ := model.NewAccount(id, email, "Test "+id)
	_ = m.Save(context.Background(), repository.NoTX, a)
	return a
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	recs map[string]*model.SubscriptionRecord

	SaveFunc    func(ctx context.Context, qx any, r *model.SubscriptionRecord) error
	ListDueFunc func(ctx context.Context, qx any, now time.Time, providers []string, limit int) ([]*model.SubscriptionRecord, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{recs: map[string]*model.SubscriptionRecord{}}
}

func (m *MockSubscriptionRepo) LockAccount(ctx context.Context, qx any, accountID string) error {
	return nil
}

func (m *MockSubscriptionRepo) FindByAccount(ctx context.Context, qx any, accountID string) (*model.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockSubscriptionRepo) find(match func(r *model.SubscriptionRecord) bool) (*model.SubscriptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockSubscriptionRepo) FindByTokenRef(ctx context.Context, qx any, provider, tokenRef string) (*model.SubscriptionRecord, error) {
	return m.find(func(r *model.SubscriptionRecord) bool {
		return r.Provider == provider && r.ProviderTokenRef != nil && *r.ProviderTokenRef == tokenRef
	})
}

func (m *MockSubscriptionRepo) FindBySubscriptionRef(ctx context.Context, qx any, provider, ref string) (*model.SubscriptionRecord, error) {
	return m.find(func(r *model.SubscriptionRecord) bool {
		return r.Provider == provider && r.ProviderSubscriptionRef != nil && *r.ProviderSubscriptionRef == ref
	})
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, qx any, r *model.SubscriptionRecord) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recs[r.AccountID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) ListDue(ctx context.Context, qx any, now time.Time, providers []string, limit int) ([]*model.SubscriptionRecord, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, qx, now, providers, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := map[string]bool{}
	for _, p := range providers {
		allowed[p] = true
	}
	var out []*model.SubscriptionRecord
	for _, r := range m.recs {
		if !allowed[r.Provider] {
			continue
		}
		due := false
		switch r.Status {
		case model.SubscriptionStatusTrial:
			b := r.TrialEndsAt
			if b == nil {
				b = r.AccessUntil
			}
			due = b != nil && !b.After(now)
		case model.SubscriptionStatusActive:
			due = r.AccessUntil != nil && !r.AccessUntil.After(now)
		case model.SubscriptionStatusCancelled:
			due = r.AccessUntil == nil || !r.AccessUntil.After(now)
		}
		if due {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockSubscriptionRepo) CountByStatus(ctx context.Context, qx any) (map[model.SubscriptionStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, r := range m.recs {
		out[r.Status]++
	}
	return out, nil
}

// get returns the stored record, or nil.
func (m *MockSubscriptionRepo) get(accountID string) *model.SubscriptionRecord {
	r, err := m.FindByAccount(context.Background(), repository.NoTX, accountID)
	if err != nil {
		return nil
	}
	return r
}

// ---- Mock TransitionRepository ----

type MockTransitionRepo struct {
	mu    sync.Mutex
	items []*model.Transition
}

var _ repository.TransitionRepository = (*MockTransitionRepo)(nil)

func NewMockTransitionRepo() *MockTransitionRepo { return &MockTransitionRepo{} }

func (m *MockTransitionRepo) Append(ctx context.Context, qx any, t *model.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.TransactionID != nil {
		for _, cur := range m.items {
			if cur.AccountID == t.AccountID && cur.TransactionID != nil && *cur.TransactionID == *t.TransactionID {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *t
	cp.ID = uuid.NewString()
	m.items = append(m.items, &cp)
	return nil
}

func (m *MockTransitionRepo) HasTransaction(ctx context.Context, qx any, accountID, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.items {
		if t.AccountID == accountID && t.TransactionID != nil && *t.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockTransitionRepo) ListByAccount(ctx context.Context, qx any, accountID string, limit int) ([]*model.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Transition
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].AccountID == accountID {
			cp := *m.items[i]
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTransitionRepo) count(accountID string) int {
	items, _ := m.ListByAccount(context.Background(), repository.NoTX, accountID, 0)
	return len(items)
}

// ---- Mock PaymentAttemptRepository ----

type MockAttemptRepo struct {
	mu    sync.Mutex
	items map[string]*model.PaymentAttempt

	SaveFunc            func(ctx context.Context, qx any, a *model.PaymentAttempt) error
	DeleteOlderThanFunc func(ctx context.Context, qx any, before time.Time) (int64, error)
}

var _ repository.PaymentAttemptRepository = (*MockAttemptRepo)(nil)

func NewMockAttemptRepo() *MockAttemptRepo {
	return &MockAttemptRepo{items: map[string]*model.PaymentAttempt{}}
}

func (m *MockAttemptRepo) Save(ctx context.Context, qx any, a *model.PaymentAttempt) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, qx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.items[a.OrderID] = &cp
	return nil
}

func (m *MockAttemptRepo) FindByOrderID(ctx context.Context, qx any, orderID string) (*model.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAttemptRepo) FindByContinuationRef(ctx context.Context, qx any, ref string) (*model.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ContinuationRef != nil && *a.ContinuationRef == ref {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockAttemptRepo) FindOpenByAccount(ctx context.Context, qx any, accountID string) (*model.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.PaymentAttempt
	for _, a := range m.items {
		if a.AccountID == accountID && !a.Step.IsFinal() && (best == nil || a.CreatedAt.After(best.CreatedAt)) {
			best = a
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *MockAttemptRepo) ListStale(ctx context.Context, qx any, step model.AttemptStep, olderThan time.Time, limit int) ([]*model.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PaymentAttempt
	for _, a := range m.items {
		if a.Step == step && a.UpdatedAt.Before(olderThan) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *MockAttemptRepo) DeleteOlderThan(ctx context.Context, qx any, before time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, qx, before)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.items {
		if a.CreatedAt.Before(before) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *MockAttemptRepo) all() []*model.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PaymentAttempt, 0, len(m.items))
	for _, a := range m.items {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// ---- Mock ProviderEventRepository ----

type MockEventRepo struct {
	mu    sync.Mutex
	items map[string]*model.ProviderEvent
}

var _ repository.ProviderEventRepository = (*MockEventRepo)(nil)

func NewMockEventRepo() *MockEventRepo {
	return &MockEventRepo{items: map[string]*model.ProviderEvent{}}
}

func eventKey(provider, id string) string { return provider + "|" + id }

func (m *MockEventRepo) RecordIfNew(ctx context.Context, qx any, e *model.ProviderEvent, reclaimAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := eventKey(e.Provider, e.EventID)
	if cur, ok := m.items[k]; ok && cur.Status != model.EventStatusFailed {
		return false, nil
	}
	cp := *e
	cp.Status = model.EventStatusReceived
	cp.ReceivedAt = time.Now()
	m.items[k] = &cp
	return true, nil
}

func (m *MockEventRepo) Mark(ctx context.Context, qx any, provider, eventID string, status model.EventStatus, accountID *string, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[eventKey(provider, eventID)]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status, e.AccountID, e.Note = status, accountID, note
	return nil
}

func (m *MockEventRepo) List(ctx context.Context, qx any, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProviderEvent
	for _, e := range m.items {
		if (provider == "" || e.Provider == provider) && (status == "" || e.Status == status) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockEventRepo) status(provider, id string) model.EventStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[eventKey(provider, id)]; ok {
		return e.Status
	}
	return ""
}

// ---- Mock PaymentRepository ----

type MockPaymentRepo struct {
	mu    sync.Mutex
	items []*model.Payment
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo { return &MockPaymentRepo{} }

func (m *MockPaymentRepo) Save(ctx context.Context, qx any, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.items {
		if cur.Provider == p.Provider && cur.TransactionID == p.TransactionID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	m.items = append(m.items, &cp)
	return nil
}

func (m *MockPaymentRepo) FindByTransactionID(ctx context.Context, qx any, provider, txn string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Provider == provider && p.TransactionID == txn {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) FindByTransactionIDAny(ctx context.Context, qx any, txn string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.TransactionID == txn {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) UpdateRefund(ctx context.Context, qx any, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.items {
		if cur.Provider == p.Provider && cur.TransactionID == p.TransactionID {
			cur.RefundedAmount, cur.Status, cur.UpdatedAt = p.RefundedAmount, p.Status, p.UpdatedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockPaymentRepo) ListByAccount(ctx context.Context, qx any, accountID string, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.items {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockPaymentRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ---- Mock TransactionManager ----

// MockTxManager runs fn immediately with NoTX. Calls are serialized, which
// stands in for the per-account advisory lock of the real store.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock ProviderAdapter ----

type MockProvider struct {
	mu   sync.Mutex
	name string
	caps adapter.Capabilities

	EnsureCustomerFunc    func(ctx context.Context, req adapter.CustomerRequest) (string, error)
	TokenizeFunc          func(ctx context.Context, req adapter.TokenizeRequest) (string, error)
	AuthorizeFunc         func(ctx context.Context, req adapter.AuthorizeRequest) (adapter.AuthorizeResult, error)
	ConfirmFunc           func(ctx context.Context, ref string) (adapter.ConfirmResult, error)
	ChargeStoredTokenFunc func(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeResult, error)
	CreateNativeFunc      func(ctx context.Context, req adapter.NativeSubscriptionRequest) (adapter.NativeSubscription, error)
	FindNativeFunc        func(ctx context.Context, customerRef string) (*adapter.NativeSubscription, error)
	CancelNativeFunc      func(ctx context.Context, ref string) error
	DeleteTokenFunc       func(ctx context.Context, tokenRef string) error
	RefundFunc            func(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error)

	Calls struct {
		Charges       []adapter.ChargeRequest
		CreateNative  int
		Confirms      int
		DeletedTokens []string
		Cancelled     []string
		Refunds       []adapter.RefundRequest
	}
}

var _ adapter.ProviderAdapter = (*MockProvider)(nil)

func NewMockTokenProvider() *MockProvider {
	return &MockProvider{name: "checkout", caps: adapter.Capabilities{StepUp: true}}
}

func NewMockNativeProvider() *MockProvider {
	return &MockProvider{name: "stripe", caps: adapter.Capabilities{NativeSubscriptions: true}}
}

func (m *MockProvider) Name() string                       { return m.name }
func (m *MockProvider) Capabilities() adapter.Capabilities { return m.caps }

func (m *MockProvider) EnsureCustomer(ctx context.Context, req adapter.CustomerRequest) (string, error) {
	if m.EnsureCustomerFunc != nil {
		return m.EnsureCustomerFunc(ctx, req)
	}
	return "cus_" + req.AccountID, nil
}

func (m *MockProvider) Tokenize(ctx context.Context, req adapter.TokenizeRequest) (string, error) {
	if m.TokenizeFunc != nil {
		return m.TokenizeFunc(ctx, req)
	}
	return "tok_" + req.CardSessionRef, nil
}

func (m *MockProvider) Authorize(ctx context.Context, req adapter.AuthorizeRequest) (adapter.AuthorizeResult, error) {
	if m.AuthorizeFunc != nil {
		return m.AuthorizeFunc(ctx, req)
	}
	return adapter.AuthorizeResult{
		Outcome:         adapter.OutcomeRequiresStepUp,
		StepUpURL:       "https://3ds.example/" + req.Reference,
		ContinuationRef: "sid_" + req.Reference,
	}, nil
}

func (m *MockProvider) Confirm(ctx context.Context, ref string) (adapter.ConfirmResult, error) {
	m.mu.Lock()
	m.Calls.Confirms++
	m.mu.Unlock()
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, ref)
	}
	return adapter.ConfirmResult{Outcome: adapter.OutcomeApproved, TransactionID: "pay_" + ref, TokenRef: "src_" + ref}, nil
}

func (m *MockProvider) ChargeStoredToken(ctx context.Context, req adapter.ChargeRequest) (adapter.ChargeResult, error) {
	m.mu.Lock()
	m.Calls.Charges = append(m.Calls.Charges, req)
	m.mu.Unlock()
	if m.ChargeStoredTokenFunc != nil {
		return m.ChargeStoredTokenFunc(ctx, req)
	}
	return adapter.ChargeResult{Outcome: adapter.OutcomeApproved, TransactionID: "pay_" + req.IdempotencyKey}, nil
}

func (m *MockProvider) CreateNativeSubscription(ctx context.Context, req adapter.NativeSubscriptionRequest) (adapter.NativeSubscription, error) {
	m.mu.Lock()
	m.Calls.CreateNative++
	m.mu.Unlock()
	if m.CreateNativeFunc != nil {
		return m.CreateNativeFunc(ctx, req)
	}
	end := time.Now().AddDate(0, 0, req.TrialDays)
	return adapter.NativeSubscription{
		SubscriptionRef: "sub_" + req.AccountID,
		Status:          "trialing",
		Trialing:        true,
		TrialEndsAt:     &end,
		TokenRef:        req.TokenRef,
	}, nil
}

func (m *MockProvider) FindNativeSubscription(ctx context.Context, customerRef string) (*adapter.NativeSubscription, error) {
	if m.FindNativeFunc != nil {
		return m.FindNativeFunc(ctx, customerRef)
	}
	return nil, nil
}

func (m *MockProvider) CancelNativeSubscription(ctx context.Context, ref string) error {
	m.mu.Lock()
	m.Calls.Cancelled = append(m.Calls.Cancelled, ref)
	m.mu.Unlock()
	if m.CancelNativeFunc != nil {
		return m.CancelNativeFunc(ctx, ref)
	}
	return nil
}

func (m *MockProvider) DeleteToken(ctx context.Context, tokenRef string) error {
	m.mu.Lock()
	m.Calls.DeletedTokens = append(m.Calls.DeletedTokens, tokenRef)
	m.mu.Unlock()
	if m.DeleteTokenFunc != nil {
		return m.DeleteTokenFunc(ctx, tokenRef)
	}
	return nil
}

func (m *MockProvider) Refund(ctx context.Context, req adapter.RefundRequest) (adapter.RefundResult, error) {
	m.mu.Lock()
	m.Calls.Refunds = append(m.Calls.Refunds, req)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, req)
	}
	return adapter.RefundResult{RefundID: "rf_" + req.TransactionID, Status: "pending"}, nil
}

func (m *MockProvider) chargeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls.Charges)
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []adapter.Notification

	NotifyFunc func(ctx context.Context, n adapter.Notification) error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, n)
	return nil
}

func (m *MockNotifier) events() []adapter.NotificationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adapter.NotificationEvent, len(m.Sent))
	for i, n := range m.Sent {
		out[i] = n.Event
	}
	return out
}

// ---- Mock RiskGate ----

type MockRiskGate struct {
	ValidateFunc func(ctx context.Context, email string, s adapter.Signals) (adapter.RiskVerdict, error)
}

var _ adapter.RiskGate = (*MockRiskGate)(nil)

func (m *MockRiskGate) Validate(ctx context.Context, email string, s adapter.Signals) (adapter.RiskVerdict, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, email, s)
	}
	return adapter.RiskVerdict{}, nil
}

// ---- Mock WebhookTranslator ----

// MockTranslator parses a payload of the form "<eventID>" and hands back a copy
// of the event registered for it.
type MockTranslator struct {
	mu     sync.Mutex
	name   string
	events map[string]model.ProviderEvent
}

var _ adapter.WebhookTranslator = (*MockTranslator)(nil)

func NewMockTranslator(name string) *MockTranslator {
	return &MockTranslator{name: name, events: map[string]model.ProviderEvent{}}
}

func (m *MockTranslator) Name() string { return m.name }

func (m *MockTranslator) register(e model.ProviderEvent) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.EventID] = e
	return []byte(e.EventID)
}

func (m *MockTranslator) Translate(payload []byte, header http.Header) (*model.ProviderEvent, error) {
	if header.Get("X-Test-Signature") == "bad" {
		return nil, domain.ErrInvalidSignature
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[string(payload)]
	if !ok {
		return nil, fmt.Errorf("unknown test payload %q", payload)
	}
	return &e, nil
}

// ---- In-memory Locker (implements redis.Locker port) ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
}

var _ red.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	// Poll briefly like the Redis locker does.
	for i := 0; i < 100; i++ {
		l.mu.Lock()
		if _, ok := l.held[key]; !ok {
			tok := uuid.NewString()
			l.held[key] = tok
			l.mu.Unlock()
			return tok, nil
		}
		l.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", red.ErrLockHeld
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}
