package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
)

// ProviderSet looks adapters up by the name stored on records.
type ProviderSet map[string]adapter.ProviderAdapter

func NewProviderSet(ps ...adapter.ProviderAdapter) ProviderSet {
	s := make(ProviderSet, len(ps))
	for _, p := range ps {
		if p != nil {
			s[p.Name()] = p
		}
	}
	return s
}

func (s ProviderSet) Get(name string) (adapter.ProviderAdapter, error) {
	p, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrUnsupported)
	}
	return p, nil
}

// MerchantBilled lists providers whose renewals this service charges itself.
func (s ProviderSet) MerchantBilled() []string {
	var out []string
	for name, p := range s {
		if !p.Capabilities().NativeSubscriptions {
			out = append(out, name)
		}
	}
	return out
}

// notifyAsync hands n to the notifier without letting a failure reach the caller.
func notifyAsync(ctx context.Context, n adapter.Notifier, log *zerolog.Logger, msg adapter.Notification) {
	if n == nil || msg.To == "" {
		return
	}
	if err := n.Notify(context.WithoutCancel(ctx), msg); err != nil {
		metrics.IncNotification(string(msg.Event), "dropped")
		logging.With(ctx, log).Warn().Err(err).Str("event", string(msg.Event)).Msg("notification not queued")
	}
}

// observe records one provider call for metrics.
func observe(provider, op string, start time.Time, outcome adapter.Outcome, err error) {
	o := string(outcome)
	switch {
	case errors.Is(err, domain.ErrProviderTransient):
		o = "transient"
	case err != nil:
		o = "permanent"
	case o == "":
		o = "ok"
	}
	metrics.ObserveProviderCall(provider, op, o, time.Since(start))
}

func dateLabel(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func ptr[T any](v T) *T { return &v }
