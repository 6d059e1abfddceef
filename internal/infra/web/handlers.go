package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/model"
	"quiz-subscription-engine/internal/infra/api"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/usecase"
)

type chargeRequest struct {
	AccountID   string `json:"account_id" validate:"required"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Reason      string `json:"reason" validate:"required,max=64"`
	GrantAccess bool   `json:"grant_access"`
}

type refundRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Amount        int64  `json:"amount" validate:"gte=0"`
}

type recordView struct {
	Status          model.SubscriptionStatus `json:"status"`
	Provider        string                   `json:"provider,omitempty"`
	HasToken        bool                     `json:"has_token"`
	SubscriptionRef *string                  `json:"subscription_ref,omitempty"`
	TrialEndsAt     *time.Time               `json:"trial_ends_at,omitempty"`
	AccessUntil     *time.Time               `json:"access_until,omitempty"`
	LastTransaction *string                  `json:"last_transaction_id,omitempty"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

func toRecordView(r *model.SubscriptionRecord) *recordView {
	if r == nil {
		return nil
	}
	return &recordView{
		Status:          r.Status,
		Provider:        r.Provider,
		HasToken:        r.ProviderTokenRef != nil,
		SubscriptionRef: r.ProviderSubscriptionRef,
		TrialEndsAt:     r.TrialEndsAt,
		AccessUntil:     r.AccessUntil,
		LastTransaction: r.LastTransactionID,
		UpdatedAt:       r.UpdatedAt,
	}
}

type transitionView struct {
	From          model.SubscriptionStatus `json:"from"`
	To            model.SubscriptionStatus `json:"to"`
	TransactionID *string                  `json:"transaction_id,omitempty"`
	EventID       *string                  `json:"event_id,omitempty"`
	Source        model.TransitionSource   `json:"source"`
	Reason        string                   `json:"reason,omitempty"`
	At            time.Time                `json:"at"`
}

type paymentView struct {
	TransactionID  string              `json:"transaction_id"`
	Provider       string              `json:"provider"`
	Kind           model.PaymentKind   `json:"kind"`
	Amount         int64               `json:"amount"`
	Currency       string              `json:"currency"`
	Status         model.PaymentStatus `json:"status"`
	RefundedAmount int64               `json:"refunded_amount"`
	CreatedAt      time.Time           `json:"created_at"`
}

type accountView struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name,omitempty"`
	LastScore   *int             `json:"last_score,omitempty"`
	HasAccess   bool             `json:"has_access"`
	Record      *recordView      `json:"subscription"`
	Transitions []transitionView `json:"transitions"`
	Payments    []paymentView    `json:"payments"`
}

type eventView struct {
	Provider    string            `json:"provider"`
	EventID     string            `json:"event_id"`
	RawType     string            `json:"type"`
	Kind        model.EventKind   `json:"kind"`
	Status      model.EventStatus `json:"status"`
	AccountID   *string           `json:"account_id,omitempty"`
	Note        string            `json:"note,omitempty"`
	ReceivedAt  time.Time         `json:"received_at"`
	ProcessedAt *time.Time        `json:"processed_at,omitempty"`
}

func (s *Server) charge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := s.decode(w, r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	ctx := logging.WithAccountID(r.Context(), req.AccountID)
	res, err := s.adminUC.Charge(ctx, usecase.AdminChargeInput{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Reason:      req.Reason,
		GrantAccess: req.GrantAccess,
	})
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, struct {
		TransactionID string      `json:"transaction_id"`
		Subscription  *recordView `json:"subscription"`
	}{res.TransactionID, toRecordView(res.Record)})
}

func (s *Server) refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := s.decode(w, r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	res, err := s.adminUC.Refund(r.Context(), usecase.AdminRefundInput{TransactionID: req.TransactionID, Amount: req.Amount})
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	// The refund is booked when the provider's webhook confirms it.
	api.WriteJSON(w, http.StatusAccepted, map[string]string{"refund_id": res.RefundID})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.adminUC.Cancel(logging.WithAccountID(r.Context(), id), id)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"subscription": toRecordView(rec)})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.adminUC.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}

	out := accountView{
		ID:          v.Account.ID,
		Email:       v.Account.Email,
		DisplayName: v.Account.DisplayName,
		LastScore:   v.Account.LastScore,
		HasAccess:   v.HasAccess,
		Record:      toRecordView(v.Record),
		Transitions: make([]transitionView, 0, len(v.Transitions)),
		Payments:    make([]paymentView, 0, len(v.Payments)),
	}
	for _, t := range v.Transitions {
		out.Transitions = append(out.Transitions, transitionView{
			From: t.From, To: t.To, TransactionID: t.TransactionID, EventID: t.EventID,
			Source: t.Source, Reason: t.Reason, At: t.At,
		})
	}
	for _, p := range v.Payments {
		out.Payments = append(out.Payments, paymentView{
			TransactionID: p.TransactionID, Provider: p.Provider, Kind: p.Kind, Amount: p.Amount,
			Currency: p.Currency, Status: p.Status, RefundedAmount: p.RefundedAmount, CreatedAt: p.CreatedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// listEvents accepts provider, status and limit (default 50, max 500) query parameters.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	status := model.EventStatus(q.Get("status"))

	events, err := s.webhookUC.ListEvents(r.Context(), q.Get("provider"), status, limit)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	items := make([]eventView, 0, len(events))
	for _, e := range events {
		items = append(items, eventView{
			Provider: e.Provider, EventID: e.EventID, RawType: e.RawType, Kind: e.Kind, Status: e.Status,
			AccountID: e.AccountID, Note: e.Note, ReceivedAt: e.ReceivedAt, ProcessedAt: e.ProcessedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	res, err := s.jobs.Run(r.Context(), name)
	if errors.Is(err, sched.ErrJobRunning) {
		http.Error(w, "job already running", http.StatusConflict)
		return
	}
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, struct {
		Job     string `json:"job"`
		Summary any    `json:"summary"`
		TookMS  int64  `json:"took_ms"`
	}{res.Job, res.Summary, res.Took.Milliseconds()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, domain.ErrInvalidArgument)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validate body: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}
