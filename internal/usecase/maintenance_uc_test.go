//go:build !integration

package usecase_test

import (
	"context"
	"testing"
	"time"

	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
)

func TestMaintenanceUseCase_GCAttempts(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	h := newHarness(NewMockTokenProvider())
	old := &model.PaymentAttempt{OrderID: "old", AccountID: "acct-1", CreatedAt: h.now.Add(-100 * time.Hour)}
	fresh := &model.PaymentAttempt{OrderID: "fresh", AccountID: "acct-1", CreatedAt: h.now.Add(-time.Hour)}
	_ = h.attempts.Save(ctx, nil, old)
	_ = h.attempts.Save(ctx, nil, fresh)

	// --- Act ---
	n, err := h.maintenance.GCAttempts(ctx)

	// --- Assert ---
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected one attempt deleted, got %d", n)
	}
	if _, err := h.attempts.FindByOrderID(ctx, nil, "fresh"); err != nil {
		t.Error("expected the fresh attempt to survive")
	}
}

func TestMaintenanceUseCase_ReconcileAttempts(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete a confirmed step-up whose callback was lost", func(t *testing.T) {
		// --- Arrange ---
		h := newHarness(NewMockTokenProvider())
		h.accounts.seedAccount("acct-1", "member@example.com")
		_ = h.attempts.Save(ctx, nil, &model.PaymentAttempt{
			OrderID: "order-1", AccountID: "acct-1", Provider: "checkout", Amount: testAmount, Currency: "EUR",
			Step: model.AttemptStepStepUpPending, ContinuationRef: strPtr("sid_1"),
			CreatedAt: h.now.Add(-time.Hour), UpdatedAt: h.now.Add(-time.Hour),
		})

		// --- Act ---
		sum, err := h.maintenance.ReconcileAttempts(ctx)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if sum.Scanned != 1 || sum.Completed != 1 {
			t.Errorf("unexpected summary %+v", sum)
		}
		if got := h.subs.get("acct-1").Status; got != model.SubscriptionStatusTrial {
			t.Errorf("expected trial, got %s", got)
		}
	})

	t.Run("should leave attempts that are still pending at the provider", func(t *testing.T) {
		h := newHarness(NewMockTokenProvider())
		h.provider.ConfirmFunc = func(ctx context.Context, ref string) (adapter.ConfirmResult, error) {
			return adapter.ConfirmResult{Outcome: adapter.OutcomePending}, nil
		}
		_ = h.attempts.Save(ctx, nil, &model.PaymentAttempt{
			OrderID: "order-1", AccountID: "acct-1", Provider: "checkout", Amount: testAmount, Currency: "EUR",
			Step: model.AttemptStepStepUpPending, ContinuationRef: strPtr("sid_1"),
			UpdatedAt: h.now.Add(-time.Hour),
		})

		sum, _ := h.maintenance.ReconcileAttempts(ctx)

		if sum.Pending != 1 {
			t.Errorf("expected one pending attempt, got %+v", sum)
		}
		if h.subs.get("acct-1") != nil {
			t.Error("expected no ledger change")
		}
	})
}

func TestMaintenanceUseCase_RefreshStats(t *testing.T) {
	h := newHarness(NewMockTokenProvider())
	seedActive(t, h, "src_1", "pay_1", h.now.Add(time.Hour))

	counts, err := h.maintenance.RefreshStats(context.Background())

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if counts[model.SubscriptionStatusActive] != 1 {
		t.Errorf("expected one active record, got %v", counts)
	}
}
