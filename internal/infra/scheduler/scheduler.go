package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// JobRunner is the part of sched.Runner the scheduler needs.
type JobRunner interface {
	Run(ctx context.Context, name string) (any, error)
}

// RunFunc adapts a function to JobRunner.
type RunFunc func(ctx context.Context, name string) (any, error)

func (f RunFunc) Run(ctx context.Context, name string) (any, error) { return f(ctx, name) }

// Entry runs job every interval.
type Entry struct {
	Job      string
	Interval time.Duration
}

// Scheduler ticks each entry on its own goroutine until stopped.
type Scheduler struct {
	runner  JobRunner
	entries []Entry
	log     *zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner JobRunner, logger *zerolog.Logger, entries ...Entry) *Scheduler {
	l := logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{runner: runner, entries: entries, log: &l}
}

// Start begins the loops. Calling Start twice has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel
	s.done = make(chan struct{})

	remaining := 0
	finished := make(chan struct{}, len(s.entries))
	for _, e := range s.entries {
		if e.Interval <= 0 {
			continue
		}
		remaining++
		go func(e Entry) {
			defer func() { finished <- struct{}{} }()
			s.loop(ctx, e)
		}(e)
	}
	go func() {
		for i := 0; i < remaining; i++ {
			<-finished
		}
		close(s.done)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	s.log.Info().Str("job", e.Job).Dur("interval", e.Interval).Msg("scheduled job started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.runner.Run(ctx, e.Job); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Debug().Err(err).Str("job", e.Job).Msg("scheduled run did not complete")
			}
		}
	}
}

// Stop cancels every loop and waits for in-flight runs. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.log.Info().Msg("scheduler stopped")
}
