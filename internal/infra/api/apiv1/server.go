package apiv1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/api"
	"quiz-subscription-engine/internal/infra/i18n"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/usecase"
)

const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20

	ConfirmPath = "/api/v1/checkout/confirm"
	PagePrefix  = "/checkout/"
)

// Server serves the public surface: checkout, the step-up return, quiz results and webhooks.
type Server struct {
	checkout usecase.CheckoutUseCase
	accounts usecase.AccountUseCase
	webhooks usecase.WebhookUseCase
	pages    map[string]*i18n.Translator
	validate *validator.Validate
	log      *zerolog.Logger
}

// NewServer takes one translator per supported page language; the first is the default.
func NewServer(
	checkout usecase.CheckoutUseCase,
	accounts usecase.AccountUseCase,
	webhooks usecase.WebhookUseCase,
	translators []*i18n.Translator,
	logger *zerolog.Logger,
) *Server {
	pages := make(map[string]*i18n.Translator, len(translators)+1)
	for i, t := range translators {
		pages[t.Lang()] = t
		if i == 0 {
			pages[""] = t
		}
	}
	l := logger.With().Str("component", "api").Logger()
	return &Server{
		checkout: checkout,
		accounts: accounts,
		webhooks: webhooks,
		pages:    pages,
		validate: validator.New(),
		log:      &l,
	}
}

// RegisterAPIV1 mounts every public route on r.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Get("/healthz", api.Healthz)
	r.Post("/api/v1/checkout", s.startCheckout)
	r.Get(ConfirmPath, s.confirmCheckout)
	r.Post(ConfirmPath, s.confirmCheckout)
	r.Post("/api/v1/results", s.recordResult)
	r.Post("/webhooks/{provider}", s.webhook)
	r.Get(PagePrefix+"{result}", s.resultPage)
}

type checkoutRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Name        string `json:"name" validate:"max=120"`
	Amount      int64  `json:"amount" validate:"gte=0"`
	CardSession string `json:"card_session" validate:"required,max=512"`
	FillMillis  int64  `json:"fill_millis" validate:"gte=0"`
	Fingerprint string `json:"fingerprint" validate:"max=256"`
}

type checkoutResponse struct {
	Outcome        string     `json:"outcome"`
	RequiresStepUp bool       `json:"requires_step_up"`
	RedirectURL    string     `json:"redirect_url,omitempty"`
	Activated      bool       `json:"activated"`
	AccountID      string     `json:"account_id"`
	OrderID        string     `json:"order_id,omitempty"`
	AccessUntil    *time.Time `json:"access_until,omitempty"`
}

func (s *Server) startCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := s.decode(w, r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}

	res, err := s.checkout.Start(r.Context(), usecase.StartCheckoutInput{
		Email:          req.Email,
		DisplayName:    req.Name,
		Amount:         req.Amount,
		CardSessionRef: req.CardSession,
		Signals: adapter.Signals{
			IP:          api.ClientIP(r),
			UserAgent:   r.UserAgent(),
			FillMillis:  req.FillMillis,
			Fingerprint: req.Fingerprint,
		},
	})
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}

	out := checkoutResponse{
		Outcome:        string(res.Outcome),
		RequiresStepUp: res.Outcome == usecase.CheckoutStepUpRequired,
		RedirectURL:    res.RedirectURL,
		Activated:      res.Outcome != usecase.CheckoutStepUpRequired,
		AccountID:      res.AccountID,
		OrderID:        res.OrderID,
	}
	if res.Record != nil {
		out.AccessUntil = res.Record.AccessUntil
		if out.AccessUntil == nil {
			out.AccessUntil = res.Record.TrialEndsAt
		}
	}
	api.WriteJSON(w, http.StatusOK, out)
}

// confirmCheckout is where the provider sends the customer after a step-up challenge.
// It always ends in a redirect to a result page.
func (s *Server) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.redirectResult(w, r, "failed")
		return
	}
	ctx := r.Context()
	order := r.Form.Get("order")

	var err error
	switch ref := firstNonEmpty(r.Form.Get("cko-session-id"), r.Form.Get("payment_intent"), r.Form.Get("ref")); {
	case order != "":
		_, err = s.checkout.CompleteAttempt(ctx, order)
	case ref != "":
		_, err = s.checkout.Confirm(ctx, ref)
	default:
		err = fmt.Errorf("confirm without reference: %w", domain.ErrInvalidArgument)
	}

	log := logging.With(logging.WithOrderID(ctx, order), s.log)
	switch {
	case err == nil:
		s.redirectResult(w, r, "success")
	case errors.Is(err, domain.ErrCheckoutInProgress), errors.Is(err, domain.ErrProviderTransient):
		log.Info().Err(err).Msg("step-up not settled yet")
		s.redirectResult(w, r, "pending")
	case errors.Is(err, domain.ErrDeclined):
		log.Info().Err(err).Msg("step-up declined")
		s.redirectResult(w, r, "failed")
	default:
		log.Error().Err(err).Msg("step-up confirmation failed")
		s.redirectResult(w, r, "failed")
	}
}

func (s *Server) redirectResult(w http.ResponseWriter, r *http.Request, result string) {
	target := PagePrefix + result
	if lang := r.Form.Get("lang"); lang != "" {
		target += "?" + url.Values{"lang": {lang}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

type resultRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"max=120"`
	Score int    `json:"score" validate:"gte=0"`
}

func (s *Server) recordResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := s.decode(w, r, &req); err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	acc, err := s.accounts.RecordResult(r.Context(), req.Email, req.Name, req.Score)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, map[string]string{"account_id": acc.ID})
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	outcome, err := s.webhooks.Handle(r.Context(), provider, body, r.Header)
	if err != nil {
		api.WriteError(w, r, s.log, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, domain.ErrInvalidArgument)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("validate body: %v: %w", err, domain.ErrInvalidArgument)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
