// Package application composes the service from configuration. Both binaries build on it.
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/config"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/adapters/payment"
	"quiz-subscription-engine/internal/infra/api/apiv1"
	pg "quiz-subscription-engine/internal/infra/db/postgres"
	"quiz-subscription-engine/internal/infra/i18n"
	"quiz-subscription-engine/internal/infra/metrics"
	"quiz-subscription-engine/internal/infra/notify"
	red "quiz-subscription-engine/internal/infra/redis"
	"quiz-subscription-engine/internal/infra/risk"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/infra/security"
	"quiz-subscription-engine/internal/infra/worker"
	"quiz-subscription-engine/internal/usecase"
)

// PageLocales are the languages the checkout result pages are served in; the first is the default.
var PageLocales = []string{"en", "de"}

type App struct {
	Config *config.Config
	Log    *zerolog.Logger

	Pool  *pgxpool.Pool
	Redis *red.Client

	Providers   usecase.ProviderSet
	Accounts    usecase.AccountUseCase
	Ledger      usecase.LedgerUseCase
	Checkout    usecase.CheckoutUseCase
	Webhooks    usecase.WebhookUseCase
	Billing     usecase.BillingUseCase
	Admin       usecase.AdminUseCase
	Maintenance usecase.MaintenanceUseCase
	Jobs        *sched.Runner
	Pages       []*i18n.Translator

	notifyPool *worker.Pool
}

// New connects to Postgres and Redis and wires every use case.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logger}

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.Pool = pool

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	a.Redis = redisClient

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.Config, a.Log

	active, providers, err := newProviders(cfg, ConfirmURL(cfg))
	if err != nil {
		return err
	}
	a.Providers = providers

	translators, err := newWebhookTranslators(cfg)
	if err != nil {
		return err
	}

	var sealer adapter.Sealer
	if cfg.Security.EncryptionKey != "" {
		svc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		sealer = svc
	} else {
		logger.Warn().Msg("security.encryption_key not set; webhook payloads are stored without the raw body")
	}

	notifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}

	var gate adapter.RiskGate = risk.AllowAll{}
	if cfg.Risk.Enabled {
		gate = risk.NewVelocityGate(red.NewRateLimiter(a.Redis), cfg.Risk, logger)
	}

	for _, lang := range PageLocales {
		tr, err := i18n.NewTranslator(i18n.LocalesFS, lang)
		if err != nil {
			return fmt.Errorf("page locale %s: %w", lang, err)
		}
		a.Pages = append(a.Pages, tr)
	}

	// ---- Repositories ----
	accountRepo := pg.NewAccountRepoCacheDecorator(pg.NewPostgresAccountRepo(a.Pool), a.Redis, cfg.Redis.TTL, logger)
	subRepo := pg.NewSubscriptionRepo(a.Pool)
	historyRepo := pg.NewTransitionRepo(a.Pool)
	eventRepo := pg.NewProviderEventRepo(a.Pool)
	attemptRepo := pg.NewAttemptRepo(a.Pool)
	paymentRepo := pg.NewPaymentRepo(a.Pool)
	tm := pg.NewTxManager(a.Pool)
	locker := red.NewLocker(a.Redis)

	retryPolicy := usecase.RetryPolicy{Base: cfg.Retry.Base, MaxRetries: cfg.Retry.MaxRetries, Cap: cfg.Retry.Cap}

	// ---- Use cases ----
	a.Accounts = usecase.NewAccountUseCase(accountRepo, tm, logger)
	a.Ledger = usecase.NewLedgerUseCase(subRepo, historyRepo, eventRepo, tm, logger)
	a.Checkout = usecase.NewCheckoutUseCase(
		a.Accounts, a.Ledger, accountRepo, attemptRepo, paymentRepo, tm,
		active, gate, notifier, locker,
		usecase.CheckoutOptions{
			Flow:       cfg.Checkout.Flow,
			Currency:   cfg.Checkout.Currency,
			TrialDays:  cfg.Checkout.TrialDays,
			MinAmount:  cfg.Checkout.MinAmount,
			MaxAmount:  cfg.Checkout.MaxAmount,
			LockTTL:    cfg.Checkout.LockTTL,
			PlanRef:    cfg.Providers.Stripe.PriceID,
			ConfirmURL: ConfirmURL(cfg),
			FailureURL: ConfirmURL(cfg),
			Retry:      retryPolicy,
		},
		logger,
	).WithProviders(providers)
	a.Webhooks = usecase.NewWebhookUseCase(
		translators, a.Ledger, a.Checkout,
		subRepo, accountRepo, attemptRepo, paymentRepo, eventRepo, tm,
		sealer, notifier,
		usecase.WebhookOptions{BillingPeriod: cfg.Checkout.BillingPeriod, TrialDays: cfg.Checkout.TrialDays},
		logger,
	)
	a.Billing = usecase.NewBillingUseCase(
		subRepo, accountRepo, paymentRepo, a.Ledger, providers, notifier,
		usecase.BillingOptions{
			Amount:        cfg.Checkout.RecurringAmount,
			Currency:      cfg.Checkout.Currency,
			BillingPeriod: cfg.Checkout.BillingPeriod,
			BatchSize:     cfg.Scheduler.BatchSize,
		},
		logger,
	)
	a.Admin = usecase.NewAdminUseCase(
		accountRepo, paymentRepo, historyRepo, a.Ledger, providers, notifier,
		usecase.AdminOptions{Currency: cfg.Checkout.Currency, BillingPeriod: cfg.Checkout.BillingPeriod, Retry: retryPolicy},
		logger,
	)
	a.Maintenance = usecase.NewMaintenanceUseCase(
		attemptRepo, subRepo, a.Checkout,
		usecase.MaintenanceOptions{
			AttemptRetention: cfg.Checkout.AttemptRetention,
			StaleAfter:       cfg.Scheduler.StaleAfter,
			BatchSize:        cfg.Scheduler.BatchSize,
		},
		logger,
	)

	a.Jobs = sched.NewRunner(locker, cfg.Scheduler.RunTimeout, logger,
		sched.BillingJob(a.Billing),
		sched.GCJob(a.Maintenance),
		sched.ReconcileJob(a.Maintenance),
		a.statsJob(),
	)
	return nil
}

// statsJob refreshes the subscription gauges and the pool gauges together.
func (a *App) statsJob() sched.Job {
	inner := sched.StatsJob(a.Maintenance)
	return sched.Job{Name: inner.Name, Run: func(ctx context.Context) (any, error) {
		st := a.Pool.Stat()
		metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
		return inner.Run(ctx)
	}}
}

func (a *App) newNotifier(ctx context.Context) (adapter.Notifier, error) {
	cfg := a.Config.Notify
	if !cfg.Enabled {
		return nil, nil
	}
	tr, err := i18n.NewTranslator(i18n.LocalesFS, cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("notify locale: %w", err)
	}

	var sink adapter.Notifier
	switch strings.ToLower(cfg.Provider) {
	case "postmark":
		pm, err := notify.NewPostmarkNotifier(cfg.PostmarkServerToken, cfg.PostmarkAccountToken, cfg.From, tr)
		if err != nil {
			return nil, fmt.Errorf("postmark: %w", err)
		}
		sink = pm
	default:
		sink = notify.NewLogNotifier(tr, a.Log, a.Config.Runtime.Dev)
	}

	a.notifyPool = worker.NewPool(cfg.Workers, a.Log)
	a.notifyPool.Start(ctx)
	return notify.NewAsyncNotifier(sink, a.notifyPool, a.Log), nil
}

// ConfirmURL is where providers return the customer after a step-up.
func ConfirmURL(cfg *config.Config) string {
	return strings.TrimRight(cfg.HTTP.BaseURL, "/") + apiv1.ConfirmPath
}

// newProviders builds the adapter for checkout.provider plus every other provider with
// credentials, so renewals and refunds keep working for records made under a previous provider.
func newProviders(cfg *config.Config, confirmURL string) (adapter.ProviderAdapter, usecase.ProviderSet, error) {
	var all []adapter.ProviderAdapter
	var active adapter.ProviderAdapter

	want := strings.ToLower(cfg.Checkout.Provider)
	if sc := cfg.Providers.Stripe; sc.SecretKey != "" || want == payment.StripeName {
		p, err := payment.NewStripeAdapter(sc.SecretKey)
		if err != nil {
			return nil, nil, fmt.Errorf("stripe: %w", err)
		}
		all = append(all, p)
		if want == payment.StripeName {
			active = p
		}
	}
	if cc := cfg.Providers.Checkout; cc.SecretKey != "" || want == payment.CheckoutName {
		p, err := payment.NewCheckoutAdapter(cc.SecretKey, cc.BaseURL, cc.ProcessingChannelID, cc.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("checkout: %w", err)
		}
		all = append(all, p)
		if want == payment.CheckoutName {
			active = p
		}
	}
	if want == payment.NoopName {
		if !cfg.Runtime.Dev {
			return nil, nil, errors.New("the noop provider is only available in dev mode")
		}
		p := payment.NewNoopProvider(confirmURL)
		all = append(all, p)
		active = p
	}
	if active == nil {
		return nil, nil, fmt.Errorf("unknown checkout.provider %q", cfg.Checkout.Provider)
	}
	if cfg.Checkout.Flow == config.FlowNative && !active.Capabilities().NativeSubscriptions {
		return nil, nil, fmt.Errorf("provider %s cannot run the native flow", active.Name())
	}
	return active, usecase.NewProviderSet(all...), nil
}

func newWebhookTranslators(cfg *config.Config) ([]adapter.WebhookTranslator, error) {
	var out []adapter.WebhookTranslator
	if s := cfg.Providers.Stripe.WebhookSecret; s != "" {
		t, err := payment.NewStripeWebhookTranslator(s)
		if err != nil {
			return nil, fmt.Errorf("stripe webhooks: %w", err)
		}
		out = append(out, t)
	}
	if s := cfg.Providers.Checkout.WebhookSecret; s != "" {
		t, err := payment.NewCheckoutWebhookTranslator(s)
		if err != nil {
			return nil, fmt.Errorf("checkout webhooks: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Close releases everything New opened. It drains queued notifications first.
func (a *App) Close() {
	if a.notifyPool != nil {
		a.notifyPool.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("redis close")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
