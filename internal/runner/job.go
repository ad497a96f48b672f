package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/resilience"
)

// DefaultJobTimeout bounds a single attempt.
const DefaultJobTimeout = 1800 * time.Second

// RetryPolicy is the job-level failure budget: MaxRetries extra attempts,
// each after a fixed Backoff delay.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy retries a failed job twice, two minutes apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: 120 * time.Second}
}

// MaxAttempts is the total number of attempts including the first.
func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Job wraps an Orchestrator with the retry policy and per-attempt timeout.
type Job struct {
	orch    *Orchestrator
	policy  RetryPolicy
	timeout time.Duration
}

// NewJob creates a Job. A non-positive timeout uses DefaultJobTimeout.
func NewJob(orch *Orchestrator, policy RetryPolicy, timeout time.Duration) *Job {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &Job{orch: orch, policy: policy, timeout: timeout}
}

// Policy returns the job's retry policy.
func (j *Job) Policy() RetryPolicy { return j.policy }

// Timeout returns the per-attempt timeout.
func (j *Job) Timeout() time.Duration { return j.timeout }

// Orchestrator returns the wrapped orchestrator.
func (j *Job) Orchestrator() *Orchestrator { return j.orch }

// Run executes the report's job until an attempt succeeds, a non-retryable
// error occurs, the retry budget is spent, or ctx is cancelled.
func (j *Job) Run(ctx context.Context, reportID string) (*model.Run, error) {
	cfg := resilience.FixedRetryConfig(j.policy.MaxRetries, j.policy.Backoff)
	cfg.OnRetry = func(attempt int, err error) {
		zap.L().Warn("rank job failed, retrying",
			zap.String("report_id", reportID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", j.policy.MaxAttempts()),
			zap.Duration("backoff", j.policy.Backoff),
			zap.Error(err),
		)
	}

	// last is the most recent run any attempt created.
	var last *model.Run
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()
		run, err := j.orch.Execute(actx, reportID)
		if run != nil {
			last = run
		}
		return err
	})
	if err != nil {
		if resilience.IsPermanent(err) {
			return last, err
		}
		return last, eris.Wrapf(err, "runner: job for report %s", reportID)
	}
	return last, nil
}
