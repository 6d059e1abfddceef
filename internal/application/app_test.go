//go:build !integration

package application

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-subscription-engine/internal/config"
	"quiz-subscription-engine/internal/infra/adapters/payment"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.HTTP.BaseURL = "https://quiz.test/"
	cfg.Checkout.Flow = config.FlowToken
	cfg.Checkout.Provider = payment.CheckoutName
	cfg.Providers.Checkout.SecretKey = "sk_test"
	cfg.Providers.Checkout.BaseURL = "https://api.sandbox.checkout.com"
	return cfg
}

func TestNewProviders(t *testing.T) {
	t.Run("should build the configured provider", func(t *testing.T) {
		active, set, err := newProviders(baseConfig(), "https://quiz.test/confirm")

		require.NoError(t, err)
		assert.Equal(t, payment.CheckoutName, active.Name())
		assert.Len(t, set, 1)
		assert.Equal(t, []string{payment.CheckoutName}, set.MerchantBilled())
	})

	t.Run("should keep other credentialed providers for existing records", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Providers.Stripe.SecretKey = "sk_test_stripe"

		active, set, err := newProviders(cfg, "")

		require.NoError(t, err)
		assert.Equal(t, payment.CheckoutName, active.Name())
		assert.Len(t, set, 2)
		assert.Equal(t, []string{payment.CheckoutName}, set.MerchantBilled())
	})

	t.Run("should refuse the native flow on a provider without subscriptions", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Checkout.Flow = config.FlowNative

		_, _, err := newProviders(cfg, "")

		assert.Error(t, err)
	})

	t.Run("should allow the noop provider only in dev", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Checkout.Provider = payment.NoopName
		cfg.Providers.Checkout.SecretKey = ""

		_, _, err := newProviders(cfg, "")
		assert.Error(t, err)

		cfg.Runtime.Dev = true
		active, _, err := newProviders(cfg, "")
		require.NoError(t, err)
		assert.Equal(t, payment.NoopName, active.Name())
	})
}

func TestConfirmURL(t *testing.T) {
	assert.Equal(t, "https://quiz.test/api/v1/checkout/confirm", ConfirmURL(baseConfig()))
}

func TestNewWebhookTranslators(t *testing.T) {
	cfg := baseConfig()
	cfg.Providers.Checkout.WebhookSecret = "whsec"

	ts, err := newWebhookTranslators(cfg)

	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, payment.CheckoutName, ts[0].Name())
}

func TestHandlers_Probes(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cfg := baseConfig()
	cfg.Admin.APIKey = "admin-key"
	a := &App{Config: cfg, Log: &logger}

	t.Run("should serve healthz on the public listener with a trace id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.PublicHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("should guard the admin api", func(t *testing.T) {
		rec := httptest.NewRecorder()
		a.AdminHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("should mint tokens the admin api accepts", func(t *testing.T) {
		cfg.Admin.JWTSecret = "secret"
		token, _, err := a.AuthManager().Mint("ops@example.com")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		sub, err := a.AuthManager().Authenticate(req)

		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", sub)
	})
}
