package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"quiz-subscription-engine/internal/domain"
	"quiz-subscription-engine/internal/infra/metrics"
	red "quiz-subscription-engine/internal/infra/redis"
)

// ErrJobRunning is returned when another process holds the job's run lock.
var ErrJobRunning = errors.New("job already running")

// Job is one periodic unit of work. Run returns a summary for logs and the admin API.
type Job struct {
	Name string
	Run  func(ctx context.Context) (any, error)
}

type Result struct {
	Job     string        `json:"job"`
	Summary any           `json:"summary,omitempty"`
	Took    time.Duration `json:"took"`
}

// Runner executes jobs under a Redis run lock so overlapping triggers from the in-process
// scheduler, an external cron or opsctl never run the same job twice at once.
type Runner struct {
	locker  red.Locker
	jobs    map[string]Job
	timeout time.Duration
	log     *zerolog.Logger
}

func NewRunner(locker red.Locker, timeout time.Duration, logger *zerolog.Logger, jobs ...Job) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	m := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	l := logger.With().Str("component", "job_runner").Logger()
	return &Runner{locker: locker, jobs: m, timeout: timeout, log: &l}
}

func (r *Runner) Names() []string {
	out := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", name, domain.ErrNotFound)
	}
	lockKey := "jobs:lock:" + name
	token, err := r.locker.TryLock(ctx, lockKey, r.timeout)
	if err != nil {
		if errors.Is(err, red.ErrLockHeld) {
			metrics.IncJobRun(name, "skipped")
			r.log.Info().Str("job", name).Msg("job already running elsewhere, skipped")
			return nil, ErrJobRunning
		}
		metrics.IncJobRun(name, "error")
		return nil, fmt.Errorf("job %q lock: %w", name, err)
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			r.log.Warn().Err(err).Str("job", name).Msg("job unlock failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	summary, err := job.Run(runCtx)
	res := &Result{Job: name, Summary: summary, Took: time.Since(start)}
	if err != nil {
		metrics.IncJobRun(name, "error")
		r.log.Error().Err(err).Str("job", name).Dur("took", res.Took).Msg("job failed")
		return res, err
	}
	metrics.IncJobRun(name, "ok")
	r.log.Info().Str("job", name).Interface("summary", summary).Dur("took", res.Took).Msg("job finished")
	return res, nil
}
