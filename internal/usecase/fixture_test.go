//go:build !integration

package usecase_test

import (
	"time"

	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/usecase"
)

// harness wires every use case onto the in-memory mocks with one shared clock.
type harness struct {
	now time.Time

	accounts    *MockAccountRepo
	subs        *MockSubscriptionRepo
	history     *MockTransitionRepo
	attempts    *MockAttemptRepo
	events      *MockEventRepo
	payments    *MockPaymentRepo
	tm          *MockTxManager
	provider    *MockProvider
	notifier    *MockNotifier
	risk        *MockRiskGate
	locker      *MockLocker
	translator  *MockTranslator
	accountUC   usecase.AccountUseCase
	ledger      usecase.LedgerUseCase
	checkout    usecase.CheckoutUseCase
	webhook     usecase.WebhookUseCase
	billing     usecase.BillingUseCase
	admin       usecase.AdminUseCase
	maintenance usecase.MaintenanceUseCase
}

const (
	testPeriod    = 30 * 24 * time.Hour
	testTrialDays = 7
	testAmount    = int64(999)
)

func newHarness(provider *MockProvider) *harness {
	h := &harness{
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		accounts:   NewMockAccountRepo(),
		subs:       NewMockSubscriptionRepo(),
		history:    NewMockTransitionRepo(),
		attempts:   NewMockAttemptRepo(),
		events:     NewMockEventRepo(),
		payments:   NewMockPaymentRepo(),
		tm:         NewMockTxManager(),
		provider:   provider,
		notifier:   &MockNotifier{},
		risk:       &MockRiskGate{},
		locker:     NewMockLocker(),
		translator: NewMockTranslator(provider.Name()),
	}
	h.build()
	return h
}

// build (re)creates the use cases so they pick up the harness clock.
func (h *harness) build() {
	logger := newTestLogger()
	clock := func() time.Time { return h.now }

	ledger := usecase.NewLedgerUseCase(h.subs, h.history, h.events, h.tm, logger).WithClock(clock)
	accountUC := usecase.NewAccountUseCase(h.accounts, h.tm, logger)
	h.accountUC = accountUC
	h.ledger = ledger
	checkout := h.newCheckout(h.provider)
	providers := usecase.NewProviderSet(h.provider)

	h.checkout = checkout
	h.webhook = usecase.NewWebhookUseCase([]adapter.WebhookTranslator{h.translator}, ledger, checkout,
		h.subs, h.accounts, h.attempts, h.payments, h.events, h.tm, nil, h.notifier,
		usecase.WebhookOptions{BillingPeriod: testPeriod, TrialDays: testTrialDays}, logger).WithClock(clock)
	h.billing = usecase.NewBillingUseCase(h.subs, h.accounts, h.payments, ledger, providers, h.notifier,
		usecase.BillingOptions{Amount: testAmount, Currency: "EUR", BillingPeriod: testPeriod}, logger).WithClock(clock)
	h.admin = usecase.NewAdminUseCase(h.accounts, h.payments, h.history, ledger, providers, h.notifier,
		usecase.AdminOptions{Currency: "EUR", BillingPeriod: testPeriod}, logger).WithClock(clock)
	h.maintenance = usecase.NewMaintenanceUseCase(h.attempts, h.subs, checkout,
		usecase.MaintenanceOptions{AttemptRetention: 72 * time.Hour, StaleAfter: 15 * time.Minute}, logger).WithClock(clock)
}

// newCheckout builds a checkout use case on the harness stores with active as
// the configured provider; others can still confirm attempts started with them.
func (h *harness) newCheckout(active *MockProvider, others ...*MockProvider) usecase.CheckoutUseCase {
	flow := usecase.FlowToken
	if active.Capabilities().NativeSubscriptions {
		flow = usecase.FlowNative
	}
	all := []adapter.ProviderAdapter{active}
	for _, p := range others {
		all = append(all, p)
	}
	return usecase.NewCheckoutUseCase(h.accountUC, h.ledger, h.accounts, h.attempts, h.payments, h.tm,
		active, h.risk, h.notifier, h.locker, usecase.CheckoutOptions{
			Flow:       flow,
			Currency:   "EUR",
			TrialDays:  testTrialDays,
			MinAmount:  100,
			MaxAmount:  10000,
			PlanRef:    "price_monthly",
			ConfirmURL: "https://quiz.example/checkout/confirm",
			FailureURL: "https://quiz.example/checkout/failed",
			Retry:      usecase.RetryPolicy{Base: time.Millisecond, MaxRetries: 2},
		}, newTestLogger()).
		WithClock(func() time.Time { return h.now }).
		WithProviders(usecase.NewProviderSet(all...))
}

// advance moves the shared clock forward.
func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }
