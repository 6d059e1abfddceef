package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/infra/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DeclinedMessage is the only thing a customer learns about a decline.
const DeclinedMessage = "payment was not accepted, try another method"

// StatusFor maps the domain taxonomy to an HTTP status and a message safe to show callers.
// Decline codes never leave the service.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrDeclined):
		return http.StatusPaymentRequired, DeclinedMessage
	case errors.Is(err, domain.ErrRiskBlocked):
		return http.StatusForbidden, "checkout not allowed"
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict, "checkout already in progress"
	case errors.Is(err, domain.ErrConflictingState), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "conflicting subscription state"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnsupported):
		return http.StatusUnprocessableEntity, "not supported by the payment provider"
	case errors.Is(err, domain.ErrProviderTransient):
		return http.StatusServiceUnavailable, "payment provider unavailable, try again"
	}
	return http.StatusInternalServerError, "internal error"
}

// WriteError logs server-side failures and writes the mapped status.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status, msg := StatusFor(err)
	l := logging.With(r.Context(), logger)
	if status >= 500 {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	WriteJSON(w, status, errorBody{Error: msg, TraceID: logging.TraceID(r.Context())})
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
