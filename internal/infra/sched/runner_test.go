//go:build !integration

package sched_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	red "quiz-subscription-engine/internal/infra/redis"
	"quiz-subscription-engine/internal/infra/sched"
)

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	err  error
}

func (m *memLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]string{}
	}
	if _, ok := m.held[key]; ok {
		return "", red.ErrLockHeld
	}
	m.held[key] = "token"
	return "token", nil
}

func (m *memLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("should run a job and return its summary", func(t *testing.T) {
		// --- Arrange ---
		job := sched.Job{Name: "count", Run: func(ctx context.Context) (any, error) { return 3, nil }}
		r := sched.NewRunner(&memLocker{}, time.Second, newTestLogger(), job)

		// --- Act ---
		res, err := r.Run(ctx, "count")

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Summary != 3 {
			t.Errorf("expected summary 3, got %v", res.Summary)
		}
	})

	t.Run("should skip a job that is already running", func(t *testing.T) {
		// --- Arrange ---
		locker := &memLocker{}
		release := make(chan struct{})
		started := make(chan struct{})
		job := sched.Job{Name: "slow", Run: func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}}
		r := sched.NewRunner(locker, time.Second, newTestLogger(), job)
		done := make(chan error)
		go func() {
			_, err := r.Run(ctx, "slow")
			done <- err
		}()
		<-started

		// --- Act ---
		_, err := r.Run(ctx, "slow")

		// --- Assert ---
		if !errors.Is(err, sched.ErrJobRunning) {
			t.Errorf("expected ErrJobRunning, got %v", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Errorf("expected the first run to succeed, got %v", err)
		}
	})

	t.Run("should reject unknown jobs", func(t *testing.T) {
		r := sched.NewRunner(&memLocker{}, time.Second, newTestLogger())
		if _, err := r.Run(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should release the lock after a failure", func(t *testing.T) {
		locker := &memLocker{}
		calls := 0
		job := sched.Job{Name: "flaky", Run: func(ctx context.Context) (any, error) {
			calls++
			return nil, errors.New("boom")
		}}
		r := sched.NewRunner(locker, time.Second, newTestLogger(), job)

		_, _ = r.Run(ctx, "flaky")
		_, _ = r.Run(ctx, "flaky")

		if calls != 2 {
			t.Errorf("expected two runs, got %d", calls)
		}
	})
}
