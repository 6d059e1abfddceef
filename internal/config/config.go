// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                // enable sampling in prod
}

type HTTPConfig struct {
	PublicAddr     string        `yaml:"public_addr" env:"HTTP_PUBLIC_ADDR"`
	AdminAddr      string        `yaml:"admin_addr" env:"HTTP_ADMIN_ADDR"`
	BaseURL        string        `yaml:"base_url" env:"HTTP_BASE_URL"` // public origin used to build redirect urls
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	URL             string `yaml:"url" env:"DATABASE_URL"`
	MaxConns        int32  `yaml:"max_conns"`
	MigrationsTable string `yaml:"migrations_table"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// CheckoutConfig selects the flow and carries the product's pricing.
type CheckoutConfig struct {
	Flow             string        `yaml:"flow"`     // native | token
	Provider         string        `yaml:"provider"` // stripe | checkout | noop
	Currency         string        `yaml:"currency"`
	TrialDays        int           `yaml:"trial_days"`
	BillingPeriod    time.Duration `yaml:"billing_period"`
	RecurringAmount  int64         `yaml:"recurring_amount"` // minor units
	MinAmount        int64         `yaml:"min_amount"`
	MaxAmount        int64         `yaml:"max_amount"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	AttemptRetention time.Duration `yaml:"attempt_retention"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
	PriceID       string `yaml:"price_id" env:"STRIPE_PRICE_ID"`
}

type CheckoutComConfig struct {
	SecretKey           string        `yaml:"secret_key" env:"CKO_SECRET_KEY"`
	WebhookSecret       string        `yaml:"webhook_secret" env:"CKO_WEBHOOK_SECRET"`
	BaseURL             string        `yaml:"base_url" env:"CKO_BASE_URL"`
	ProcessingChannelID string        `yaml:"processing_channel_id" env:"CKO_PROCESSING_CHANNEL_ID"`
	Timeout             time.Duration `yaml:"timeout"`
}

type ProvidersConfig struct {
	Stripe   StripeConfig      `yaml:"stripe"`
	Checkout CheckoutComConfig `yaml:"checkout"`
}

// RetryConfig drives caller-side backoff for transient provider failures.
type RetryConfig struct {
	Base       time.Duration `yaml:"base"`
	MaxRetries uint64        `yaml:"max_retries"`
	Cap        time.Duration `yaml:"cap"`
}

type SchedulerConfig struct {
	Enabled           bool          `yaml:"enabled" env:"SCHEDULER_ENABLED"`
	BillingInterval   time.Duration `yaml:"billing_interval"`
	GCInterval        time.Duration `yaml:"gc_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	BatchSize         int           `yaml:"batch_size"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
}

type RiskConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxAttemptsPerEmail int           `yaml:"max_attempts_per_email"`
	MaxAttemptsPerIP    int           `yaml:"max_attempts_per_ip"`
	Window              time.Duration `yaml:"window"`
	BlockedDomains      []string      `yaml:"blocked_domains"`
	MinFillMillis       int64         `yaml:"min_fill_millis"`
}

type NotifyConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Provider             string `yaml:"provider"` // postmark | log
	PostmarkServerToken  string `yaml:"postmark_server_token" env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `yaml:"postmark_account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	From                 string `yaml:"from"`
	Workers              int    `yaml:"workers"`
	Locale               string `yaml:"locale"`
}

type AdminConfig struct {
	APIKey    string        `yaml:"api_key" env:"ADMIN_API_KEY"`
	JWTSecret string        `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Providers ProvidersConfig `yaml:"providers"`
	Retry     RetryConfig     `yaml:"retry"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Risk      RiskConfig      `yaml:"risk"`
	Notify    NotifyConfig    `yaml:"notify"`
	Admin     AdminConfig     `yaml:"admin"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

const (
	FlowNative = "native"
	FlowToken  = "token"
)

// LoadConfig reads the YAML file at path, then applies environment overrides
// (a local .env file is honoured when present).
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse is LoadConfig without the file read.
func Parse(raw []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	_ = godotenv.Load()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.PublicAddr == "" {
		cfg.HTTP.PublicAddr = ":8080"
	}
	if cfg.HTTP.AdminAddr == "" {
		cfg.HTTP.AdminAddr = "127.0.0.1:9090"
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MigrationsTable == "" {
		cfg.Database.MigrationsTable = "schema_migrations"
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	c := &cfg.Checkout
	c.Flow = strings.ToLower(strings.TrimSpace(c.Flow))
	if c.Flow == "" {
		c.Flow = FlowToken
	}
	if c.Provider == "" {
		if c.Flow == FlowNative {
			c.Provider = "stripe"
		} else {
			c.Provider = "checkout"
		}
	}
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	c.Currency = strings.ToUpper(c.Currency)
	if c.TrialDays <= 0 {
		c.TrialDays = 7
	}
	if c.BillingPeriod <= 0 {
		c.BillingPeriod = 30 * 24 * time.Hour
	}
	if c.MinAmount <= 0 {
		c.MinAmount = 50
	}
	if c.MaxAmount <= 0 {
		c.MaxAmount = 10000
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.AttemptRetention <= 0 {
		c.AttemptRetention = 72 * time.Hour
	}

	if cfg.Providers.Checkout.BaseURL == "" {
		cfg.Providers.Checkout.BaseURL = "https://api.sandbox.checkout.com"
	}
	if cfg.Providers.Checkout.Timeout <= 0 {
		cfg.Providers.Checkout.Timeout = 15 * time.Second
	}

	if cfg.Retry.Base <= 0 {
		cfg.Retry.Base = 200 * time.Millisecond
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.Cap <= 0 {
		cfg.Retry.Cap = 2 * time.Second
	}

	s := &cfg.Scheduler
	if s.BillingInterval <= 0 {
		s.BillingInterval = 3 * time.Hour
	}
	if s.GCInterval <= 0 {
		s.GCInterval = 6 * time.Hour
	}
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = 10 * time.Minute
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 20 * time.Minute
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 200
	}
	if s.RunTimeout <= 0 {
		s.RunTimeout = 10 * time.Minute
	}

	if cfg.Risk.MaxAttemptsPerEmail <= 0 {
		cfg.Risk.MaxAttemptsPerEmail = 5
	}
	if cfg.Risk.MaxAttemptsPerIP <= 0 {
		cfg.Risk.MaxAttemptsPerIP = 20
	}
	if cfg.Risk.Window <= 0 {
		cfg.Risk.Window = time.Hour
	}

	if cfg.Notify.Provider == "" {
		cfg.Notify.Provider = "log"
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.Locale == "" {
		cfg.Notify.Locale = "en"
	}

	if cfg.Admin.TokenTTL <= 0 {
		cfg.Admin.TokenTTL = 30 * time.Minute
	}
}

func validate(cfg *Config) error {
	// Minimal validation
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.HTTP.BaseURL == "" {
		return errors.New("http.base_url is required")
	}
	switch cfg.Checkout.Flow {
	case FlowNative, FlowToken:
	default:
		return fmt.Errorf("checkout.flow %q is not supported", cfg.Checkout.Flow)
	}
	if cfg.Checkout.MinAmount > cfg.Checkout.MaxAmount {
		return errors.New("checkout.min_amount must not exceed checkout.max_amount")
	}
	if cfg.Checkout.RecurringAmount <= 0 && cfg.Checkout.Flow == FlowToken {
		return errors.New("checkout.recurring_amount is required for the token flow")
	}
	switch cfg.Checkout.Provider {
	case "stripe":
		if cfg.Providers.Stripe.SecretKey == "" {
			return errors.New("providers.stripe.secret_key is required")
		}
		if cfg.Checkout.Flow == FlowNative && cfg.Providers.Stripe.PriceID == "" {
			return errors.New("providers.stripe.price_id is required")
		}
	case "checkout":
		if cfg.Providers.Checkout.SecretKey == "" {
			return errors.New("providers.checkout.secret_key is required")
		}
	case "noop":
		if !cfg.Runtime.Dev {
			return errors.New("checkout.provider=noop is only allowed in dev mode")
		}
	default:
		return fmt.Errorf("checkout.provider %q is not supported", cfg.Checkout.Provider)
	}
	if cfg.Admin.APIKey == "" && cfg.Admin.JWTSecret == "" {
		return errors.New("admin.api_key or admin.jwt_secret is required")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
