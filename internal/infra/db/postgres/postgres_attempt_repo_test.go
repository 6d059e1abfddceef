//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
)

func TestAttemptRepo_Integration(t *testing.T) {
	ctx := context.Background()
	repo := NewAttemptRepo(testPool)

	t.Run("should track an attempt through step-up", func(t *testing.T) {
		cleanup(t)
		id := seedAccount(t, "taker@example.com")
		a, err := model.NewPaymentAttempt(id, "checkout", 199, "EUR")
		if err != nil {
			t.Fatalf("new attempt: %v", err)
		}
		if err := repo.Save(ctx, nil, a); err != nil {
			t.Fatalf("save: %v", err)
		}

		open, err := repo.FindOpenByAccount(ctx, nil, id)
		if err != nil || open.OrderID != a.OrderID {
			t.Fatalf("find open: %v %+v", err, open)
		}

		a.Step = model.AttemptStepStepUpPending
		a.ContinuationRef = strPtr("pay_1")
		a.UpdatedAt = time.Now()
		if err := repo.Save(ctx, nil, a); err != nil {
			t.Fatalf("update: %v", err)
		}
		byRef, err := repo.FindByContinuationRef(ctx, nil, "pay_1")
		if err != nil || byRef.Step != model.AttemptStepStepUpPending {
			t.Fatalf("find by continuation: %v %+v", err, byRef)
		}

		a.Step = model.AttemptStepCompleted
		if err := repo.Save(ctx, nil, a); err != nil {
			t.Fatalf("complete: %v", err)
		}
		if _, err := repo.FindOpenByAccount(ctx, nil, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("completed attempt should not be open, got %v", err)
		}
	})

	t.Run("should list stale step-ups and delete old attempts", func(t *testing.T) {
		cleanup(t)
		id := seedAccount(t, "stale@example.com")
		old := time.Now().Add(-2 * time.Hour)

		stale, _ := model.NewPaymentAttempt(id, "checkout", 199, "EUR")
		stale.Step = model.AttemptStepStepUpPending
		stale.CreatedAt, stale.UpdatedAt = old, old
		fresh, _ := model.NewPaymentAttempt(id, "checkout", 199, "EUR")
		fresh.Step = model.AttemptStepStepUpPending
		for _, a := range []*model.PaymentAttempt{stale, fresh} {
			if err := repo.Save(ctx, nil, a); err != nil {
				t.Fatalf("save: %v", err)
			}
		}

		list, err := repo.ListStale(ctx, nil, model.AttemptStepStepUpPending, time.Now().Add(-time.Hour), 10)
		if err != nil || len(list) != 1 || list[0].OrderID != stale.OrderID {
			t.Fatalf("list stale: %v %+v", err, list)
		}

		n, err := repo.DeleteOlderThan(ctx, nil, time.Now().Add(-time.Hour))
		if err != nil || n != 1 {
			t.Fatalf("expected 1 deleted, got %d (%v)", n, err)
		}
		if _, err := repo.FindByOrderID(ctx, nil, fresh.OrderID); err != nil {
			t.Errorf("fresh attempt should survive: %v", err)
		}
	})
}
