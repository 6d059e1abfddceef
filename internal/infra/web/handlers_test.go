//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/usecase"
)

const testKey = "test-admin-key"

func newAdminRouter(adminUC *mockAdminUC, webhookUC *mockWebhookUC, jobs *mockJobRunner) *chi.Mux {
	if adminUC == nil {
		adminUC = &mockAdminUC{}
	}
	if webhookUC == nil {
		webhookUC = &mockWebhookUC{}
	}
	if jobs == nil {
		jobs = &mockJobRunner{}
	}
	s := NewServer(adminUC, webhookUC, jobs, NewAuthManager(testKey, "", 0), newTestLogger())
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func send(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestChargeHandler(t *testing.T) {
	t.Run("should charge the stored token", func(t *testing.T) {
		// --- Arrange ---
		var got usecase.AdminChargeInput
		uc := &mockAdminUC{ChargeFunc: func(ctx context.Context, in usecase.AdminChargeInput) (*usecase.AdminChargeResult, error) {
			got = in
			rec := model.NewSubscriptionRecord(in.AccountID)
			rec.Status = model.SubscriptionStatusActive
			return &usecase.AdminChargeResult{TransactionID: "pay_1", Record: rec}, nil
		}}
		r := newAdminRouter(uc, nil, nil)

		// --- Act ---
		rr := send(r, http.MethodPost, "/admin/v1/charges", `{"account_id":"a1","amount":999,"reason":"goodwill","grant_access":true}`)

		// --- Assert ---
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
		}
		if got.AccountID != "a1" || got.Amount != 999 || !got.GrantAccess {
			t.Errorf("input not passed through: %+v", got)
		}
		var body struct {
			TransactionID string `json:"transaction_id"`
			Subscription  struct {
				Status string `json:"status"`
			} `json:"subscription"`
		}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.TransactionID != "pay_1" || body.Subscription.Status != "active" {
			t.Errorf("unexpected body: %+v", body)
		}
	})

	t.Run("should reject a non-positive amount", func(t *testing.T) {
		r := newAdminRouter(nil, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/charges", `{"account_id":"a1","amount":0,"reason":"x"}`)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("should map a decline to 402", func(t *testing.T) {
		uc := &mockAdminUC{ChargeFunc: func(ctx context.Context, in usecase.AdminChargeInput) (*usecase.AdminChargeResult, error) {
			return nil, &domain.DeclineError{Provider: "checkout", Code: "20051"}
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/charges", `{"account_id":"a1","amount":5,"reason":"x"}`)

		if rr.Code != http.StatusPaymentRequired {
			t.Fatalf("expected 402, got %d", rr.Code)
		}
	})

	t.Run("should map an account without a token to 409", func(t *testing.T) {
		uc := &mockAdminUC{ChargeFunc: func(ctx context.Context, in usecase.AdminChargeInput) (*usecase.AdminChargeResult, error) {
			return nil, fmt.Errorf("no stored token: %w", domain.ErrConflictingState)
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/charges", `{"account_id":"a1","amount":5,"reason":"x"}`)

		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rr.Code)
		}
	})
}

func TestRefundHandler(t *testing.T) {
	t.Run("should accept the refund request", func(t *testing.T) {
		uc := &mockAdminUC{RefundFunc: func(ctx context.Context, in usecase.AdminRefundInput) (adapter.RefundResult, error) {
			if in.TransactionID != "pay_1" || in.Amount != 100 {
				t.Errorf("unexpected input %+v", in)
			}
			return adapter.RefundResult{RefundID: "act_1"}, nil
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/refunds", `{"transaction_id":"pay_1","amount":100}`)

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d, body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("should reject refunds above the captured amount", func(t *testing.T) {
		uc := &mockAdminUC{RefundFunc: func(ctx context.Context, in usecase.AdminRefundInput) (adapter.RefundResult, error) {
			return adapter.RefundResult{}, fmt.Errorf("amount exceeds refundable: %w", domain.ErrInvalidArgument)
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/refunds", `{"transaction_id":"pay_1","amount":100000}`)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})
}

func TestAccountHandlers(t *testing.T) {
	until := time.Now().Add(48 * time.Hour)
	score := 87

	t.Run("should return the account view", func(t *testing.T) {
		// --- Arrange ---
		uc := &mockAdminUC{GetAccountFunc: func(ctx context.Context, id string) (*usecase.AccountView, error) {
			rec := model.NewSubscriptionRecord(id)
			rec.Status = model.SubscriptionStatusCancelled
			rec.AccessUntil = &until
			return &usecase.AccountView{
				Account:     &model.Account{ID: id, Email: "taker@example.com", LastScore: &score},
				Record:      rec,
				HasAccess:   true,
				Transitions: []*model.Transition{{From: model.SubscriptionStatusActive, To: model.SubscriptionStatusCancelled, Source: model.SourceAdmin}},
				Payments:    []*model.Payment{{TransactionID: "pay_1", Amount: 999, Currency: "EUR", Status: model.PaymentStatusSucceeded}},
			}, nil
		}}
		r := newAdminRouter(uc, nil, nil)

		// --- Act ---
		rr := send(r, http.MethodGet, "/admin/v1/accounts/a1", "")

		// --- Assert ---
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var body accountView
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.ID != "a1" || !body.HasAccess || body.Record == nil || body.Record.Status != model.SubscriptionStatusCancelled {
			t.Errorf("unexpected body: %+v", body)
		}
		if len(body.Transitions) != 1 || len(body.Payments) != 1 {
			t.Errorf("expected history to be included, got %+v", body)
		}
	})

	t.Run("should 404 unknown accounts", func(t *testing.T) {
		uc := &mockAdminUC{GetAccountFunc: func(ctx context.Context, id string) (*usecase.AccountView, error) {
			return nil, domain.ErrNotFound
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodGet, "/admin/v1/accounts/missing", "")

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("should cancel by account id", func(t *testing.T) {
		var gotID string
		uc := &mockAdminUC{CancelFunc: func(ctx context.Context, id string) (*model.SubscriptionRecord, error) {
			gotID = id
			rec := model.NewSubscriptionRecord(id)
			rec.Status = model.SubscriptionStatusCancelled
			return rec, nil
		}}
		r := newAdminRouter(uc, nil, nil)

		rr := send(r, http.MethodPost, "/admin/v1/accounts/a1/cancel", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if gotID != "a1" {
			t.Errorf("expected a1, got %q", gotID)
		}
	})
}

func TestListEventsHandler(t *testing.T) {
	t.Run("should pass filters and clamp the limit", func(t *testing.T) {
		var gotLimit int
		var gotStatus model.EventStatus
		wh := &mockWebhookUC{ListEventsFunc: func(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
			gotLimit, gotStatus = limit, status
			return []*model.ProviderEvent{{Provider: provider, EventID: "evt_1", Status: status}}, nil
		}}
		r := newAdminRouter(nil, wh, nil)

		rr := send(r, http.MethodGet, "/admin/v1/events?provider=stripe&status=unresolved&limit=9999", "")

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if gotLimit != 500 || gotStatus != model.EventStatusUnresolved {
			t.Errorf("unexpected filters: limit=%d status=%s", gotLimit, gotStatus)
		}
	})

	t.Run("should map storage errors to 500", func(t *testing.T) {
		wh := &mockWebhookUC{ListEventsFunc: func(ctx context.Context, provider string, status model.EventStatus, limit int) ([]*model.ProviderEvent, error) {
			return nil, errors.New("db down")
		}}
		r := newAdminRouter(nil, wh, nil)

		rr := send(r, http.MethodGet, "/admin/v1/events", "")

		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
	})
}

func TestRunJobHandler(t *testing.T) {
	cases := []struct {
		name string
		res  *sched.Result
		err  error
		want int
	}{
		{"should report the summary", &sched.Result{Job: sched.JobBilling, Summary: usecase.BillingSummary{Due: 2, Renewed: 2}}, nil, http.StatusOK},
		{"should refuse overlapping runs", nil, sched.ErrJobRunning, http.StatusConflict},
		{"should 404 unknown jobs", nil, fmt.Errorf("job: %w", domain.ErrNotFound), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &mockJobRunner{RunFunc: func(ctx context.Context, name string) (*sched.Result, error) {
				return tc.res, tc.err
			}}
			r := newAdminRouter(nil, nil, jobs)

			rr := send(r, http.MethodPost, "/admin/v1/jobs/"+sched.JobBilling, "")

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}
