package risk

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/config"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
	red "quiz-subscription-engine/internal/infra/redis"
)

var _ adapter.RiskGate = (*VelocityGate)(nil)

const (
	ReasonBlockedDomain = "blocked_domain"
	ReasonEmailVelocity = "email_velocity"
	ReasonIPVelocity    = "ip_velocity"
	ReasonTooFast       = "form_filled_too_fast"
)

// Limiter counts hits in a window; *redis.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// VelocityGate blocks checkouts from listed domains, bursts per email or IP, and forms
// submitted faster than a person could. Limiter failures allow the checkout.
type VelocityGate struct {
	limiter Limiter
	cfg     config.RiskConfig
	domains map[string]struct{}
	log     *zerolog.Logger
}

func NewVelocityGate(limiter Limiter, cfg config.RiskConfig, logger *zerolog.Logger) *VelocityGate {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	domains := make(map[string]struct{}, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		domains[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	l := logger.With().Str("component", "risk").Logger()
	return &VelocityGate{limiter: limiter, cfg: cfg, domains: domains, log: &l}
}

func (g *VelocityGate) Validate(ctx context.Context, email string, signals adapter.Signals) (adapter.RiskVerdict, error) {
	var reasons []string
	email = strings.ToLower(strings.TrimSpace(email))

	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		if _, blocked := g.domains[email[at+1:]]; blocked {
			reasons = append(reasons, ReasonBlockedDomain)
		}
	}
	if g.cfg.MinFillMillis > 0 && signals.FillMillis > 0 && signals.FillMillis < g.cfg.MinFillMillis {
		reasons = append(reasons, ReasonTooFast)
	}
	if g.cfg.MaxAttemptsPerEmail > 0 && email != "" {
		if !g.allow(ctx, red.CheckoutEmailKey(email), g.cfg.MaxAttemptsPerEmail) {
			reasons = append(reasons, ReasonEmailVelocity)
		}
	}
	if g.cfg.MaxAttemptsPerIP > 0 && signals.IP != "" {
		if !g.allow(ctx, red.CheckoutIPKey(signals.IP), g.cfg.MaxAttemptsPerIP) {
			reasons = append(reasons, ReasonIPVelocity)
		}
	}

	v := adapter.RiskVerdict{Block: len(reasons) > 0, Reasons: reasons}
	if v.Block {
		metrics.IncRiskDecision("block")
		logging.With(ctx, g.log).Info().Strs("reasons", reasons).Str("ip", signals.IP).Msg("checkout blocked")
	} else {
		metrics.IncRiskDecision("allow")
	}
	return v, nil
}

func (g *VelocityGate) allow(ctx context.Context, key string, limit int) bool {
	ok, err := g.limiter.Allow(ctx, key, limit, g.cfg.Window)
	if err != nil {
		metrics.IncRiskDecision("fail_open")
		logging.With(ctx, g.log).Warn().Err(err).Msg("velocity check unavailable, allowing")
		return true
	}
	return ok
}

// AllowAll is the gate used when risk checks are disabled.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, string, adapter.Signals) (adapter.RiskVerdict, error) {
	return adapter.RiskVerdict{}, nil
}
