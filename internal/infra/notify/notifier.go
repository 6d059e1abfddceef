package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"
	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/i18n"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
	"quiz-subscription-engine/internal/infra/worker"
)

var (
	_ adapter.Notifier = (*PostmarkNotifier)(nil)
	_ adapter.Notifier = (*LogNotifier)(nil)
	_ adapter.Notifier = (*AsyncNotifier)(nil)
)

var ErrSendFailed = errors.New("notification send failed")

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Render builds the subject and body for n from the translator's notify.<event>.* keys.
func Render(t *i18n.Translator, n adapter.Notification) Message {
	vars := map[string]string{"name": n.Name, "until": t.T("notify.date_unknown")}
	if strings.TrimSpace(n.Name) == "" {
		vars["name"] = t.T("notify.greeting_fallback")
	}
	for k, v := range n.Data {
		if v != "" {
			vars[k] = v
		}
	}
	prefix := "notify." + string(n.Event)
	return Message{
		Subject: t.Render(prefix+".subject", vars),
		Body:    t.Render(prefix+".body", vars),
	}
}

// emailSender is the part of *postmark.Client the notifier uses.
type emailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkNotifier sends notifications as transactional email.
type PostmarkNotifier struct {
	client emailSender
	from   string
	tr     *i18n.Translator
}

func NewPostmarkNotifier(serverToken, accountToken, from string, tr *i18n.Translator) (*PostmarkNotifier, error) {
	if serverToken == "" {
		return nil, errors.New("postmark server token is required")
	}
	if from == "" {
		return nil, errors.New("notify.from is required")
	}
	return newPostmarkNotifier(postmark.NewClient(serverToken, accountToken), from, tr), nil
}

func newPostmarkNotifier(client emailSender, from string, tr *i18n.Translator) *PostmarkNotifier {
	return &PostmarkNotifier{client: client, from: from, tr: tr}
}

func (p *PostmarkNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	msg := Render(p.tr, n)
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		To:         n.To,
		Subject:    msg.Subject,
		TextBody:   msg.Body,
		Tag:        string(n.Event),
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// LogNotifier writes notifications to the log; used in development and when email is off.
type LogNotifier struct {
	tr  *i18n.Translator
	log *zerolog.Logger
	dev bool
}

func NewLogNotifier(tr *i18n.Translator, logger *zerolog.Logger, dev bool) *LogNotifier {
	l := logger.With().Str("component", "notify").Logger()
	return &LogNotifier{tr: tr, log: &l, dev: dev}
}

func (l *LogNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	msg := Render(l.tr, n)
	logging.With(ctx, l.log).Info().
		Str("event", string(n.Event)).
		Str("to", logging.Redact(n.To, l.dev)).
		Str("subject", msg.Subject).
		Msg("notification")
	return nil
}

// AsyncNotifier hands notifications to the worker pool so callers never wait on delivery.
type AsyncNotifier struct {
	next adapter.Notifier
	pool *worker.Pool
	log  *zerolog.Logger
}

func NewAsyncNotifier(next adapter.Notifier, pool *worker.Pool, logger *zerolog.Logger) *AsyncNotifier {
	l := logger.With().Str("component", "notify").Logger()
	return &AsyncNotifier{next: next, pool: pool, log: &l}
}

func (a *AsyncNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	trace := logging.TraceID(ctx)
	return a.pool.Submit(func(ctx context.Context) error {
		if trace != "" {
			ctx = logging.WithTraceID(ctx, trace)
		}
		if err := a.next.Notify(ctx, n); err != nil {
			metrics.IncNotification(string(n.Event), "failed")
			return fmt.Errorf("notify %s: %w", n.Event, err)
		}
		metrics.IncNotification(string(n.Event), "sent")
		return nil
	})
}
