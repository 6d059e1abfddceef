//go:build !integration

package notify

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mrz1836/postmark"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-subscription-engine/internal/domain/ports/adapter"
	"quiz-subscription-engine/internal/infra/i18n"
	"quiz-subscription-engine/internal/infra/worker"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []postmark.Email
	resp postmark.EmailResponse
}

func (f *fakeSender) SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	return f.resp, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func englishTranslator(t *testing.T) *i18n.Translator {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	require.NoError(t, err)
	return tr
}

func TestRender(t *testing.T) {
	tr := englishTranslator(t)

	msg := Render(tr, adapter.Notification{
		Event: adapter.NotifyTrialStarted,
		Name:  "Ada",
		Data:  map[string]string{"until": "8 March 2026"},
	})

	assert.Equal(t, "Your trial has started", msg.Subject)
	assert.Contains(t, msg.Body, "Hi Ada")
	assert.Contains(t, msg.Body, "8 March 2026")
}

func TestPostmarkNotifier_Notify(t *testing.T) {
	t.Run("should send the rendered email", func(t *testing.T) {
		s := &fakeSender{}
		n := newPostmarkNotifier(s, "billing@quiz.test", englishTranslator(t))

		err := n.Notify(context.Background(), adapter.Notification{Event: adapter.NotifyRefundIssued, To: "member@example.com"})

		require.NoError(t, err)
		require.Len(t, s.sent, 1)
		assert.Equal(t, "member@example.com", s.sent[0].To)
		assert.Equal(t, "refund_issued", s.sent[0].Tag)
		assert.Contains(t, s.sent[0].TextBody, "Hi there")
	})

	t.Run("should report postmark api errors", func(t *testing.T) {
		s := &fakeSender{resp: postmark.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}}
		n := newPostmarkNotifier(s, "billing@quiz.test", englishTranslator(t))

		err := n.Notify(context.Background(), adapter.Notification{Event: adapter.NotifyPaymentFailed, To: "member@example.com"})

		assert.ErrorIs(t, err, ErrSendFailed)
	})
}

func TestAsyncNotifier_Notify(t *testing.T) {
	s := &fakeSender{}
	pool := worker.NewPool(1, newTestLogger())
	pool.Start(context.Background())
	n := NewAsyncNotifier(newPostmarkNotifier(s, "billing@quiz.test", englishTranslator(t)), pool, newTestLogger())

	require.NoError(t, n.Notify(context.Background(), adapter.Notification{Event: adapter.NotifySubscriptionExpired, To: "member@example.com"}))

	assert.Eventually(t, func() bool { return s.count() == 1 }, time.Second, 5*time.Millisecond)
	pool.Stop()
}
