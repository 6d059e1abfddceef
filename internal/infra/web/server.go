package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/infra/api"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/usecase"
)

// JobRunner triggers a named maintenance job; *sched.Runner satisfies it.
type JobRunner interface {
	Run(ctx context.Context, name string) (*sched.Result, error)
}

// Server is the operator API on its own listener.
type Server struct {
	adminUC   usecase.AdminUseCase
	webhookUC usecase.WebhookUseCase
	jobs      JobRunner
	auth      *AuthManager
	validate  *validator.Validate
	log       *zerolog.Logger
}

func NewServer(
	adminUC usecase.AdminUseCase,
	webhookUC usecase.WebhookUseCase,
	jobs JobRunner,
	auth *AuthManager,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "admin").Logger()
	return &Server{
		adminUC:   adminUC,
		webhookUC: webhookUC,
		jobs:      jobs,
		auth:      auth,
		validate:  validator.New(),
		log:       &l,
	}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", api.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(s.authMiddleware, s.countRequests)
		r.Post("/charges", s.charge)
		r.Post("/refunds", s.refund)
		r.Get("/accounts/{id}", s.getAccount)
		r.Post("/accounts/{id}/cancel", s.cancel)
		r.Get("/events", s.listEvents)
		r.Post("/jobs/{job}", s.runJob)
	})
}

// authMiddleware accepts the static API key or an admin token as a Bearer credential.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.auth.Authenticate(r)
		switch {
		case errors.Is(err, ErrAuthNotConfigured):
			s.log.Error().Msg("admin credentials are not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		case errors.Is(err, ErrMissingCredential), errors.Is(err, ErrInvalidCredential):
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		case err != nil:
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		logging.With(r.Context(), s.log).Debug().Str("operator", subject).Str("path", r.URL.Path).Msg("admin request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncAdminRequest(route, strconv.Itoa(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
