package application

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"quiz-subscription-engine/internal/infra/api"
	"quiz-subscription-engine/internal/infra/api/apiv1"
	"quiz-subscription-engine/internal/infra/web"
)

// PublicHandler serves checkout, results, result pages and webhooks.
func (a *App) PublicHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(),
		api.Recover(a.Log),
		api.RequestLog(a.Log),
		api.Timeout(a.Config.HTTP.RequestTimeout),
	)
	apiv1.RegisterAPIV1(r, apiv1.NewServer(a.Checkout, a.Accounts, a.Webhooks, a.Pages, a.Log))
	return r
}

// AdminHandler serves the operator API, /metrics and /healthz.
func (a *App) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		api.TraceID(),
		api.Recover(a.Log),
		api.RequestLog(a.Log),
	)
	web.NewServer(a.Admin, a.Webhooks, a.Jobs, a.AuthManager(), a.Log).RegisterRoutes(r)
	return r
}

func (a *App) AuthManager() *web.AuthManager {
	c := a.Config.Admin
	return web.NewAuthManager(c.APIKey, c.JWTSecret, c.TokenTTL)
}
