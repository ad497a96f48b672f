package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/model"
)

// DefaultInterval is how often the Ticker scans for due reports.
const DefaultInterval = time.Minute

// Lister returns reports with a recurring schedule.
type Lister interface {
	ListScheduledReports(ctx context.Context) ([]model.Report, error)
}

// Trigger starts a run for a report.
type Trigger interface {
	TriggerRun(ctx context.Context, reportID string) (*model.Run, error)
}

// Ticker periodically triggers reports whose schedule is due.
type Ticker struct {
	lister   Lister
	trigger  Trigger
	interval time.Duration
	now      func() time.Time
	// skip reports trigger errors that mean "already running".
	skip func(error) bool
}

// TickerOption configures a Ticker.
type TickerOption func(*Ticker)

// WithClock overrides the ticker's time source.
func WithClock(now func() time.Time) TickerOption {
	return func(t *Ticker) { t.now = now }
}

// WithSkip treats trigger errors matching fn as a quiet skip.
func WithSkip(fn func(error) bool) TickerOption {
	return func(t *Ticker) { t.skip = fn }
}

// NewTicker creates a Ticker. A non-positive interval uses DefaultInterval.
func NewTicker(lister Lister, trigger Trigger, interval time.Duration, opts ...TickerOption) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Ticker{
		lister:   lister,
		trigger:  trigger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		skip:     func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Tick triggers every due report once and returns how many were started.
// Per-report trigger failures are logged and do not stop the scan. Failed
// reports stay off the schedule until a run is triggered manually.
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	reports, err := t.lister.ListScheduledReports(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "schedule: list scheduled reports")
	}

	now := t.now()
	var started int
	for _, r := range reports {
		if r.Status == model.ReportStatusRunning || r.Status == model.ReportStatusFailed {
			continue
		}
		since := r.CreatedAt
		if r.LastRunAt != nil {
			since = *r.LastRunAt
		}
		if !Due(r.Schedule, since, now) {
			continue
		}

		log := zap.L().With(zap.String("report_id", r.ID), zap.String("frequency", r.Schedule.Frequency))
		if _, err := t.trigger.TriggerRun(ctx, r.ID); err != nil {
			if t.skip(err) || errors.Is(err, context.Canceled) {
				log.Debug("schedule: trigger skipped", zap.Error(err))
				continue
			}
			log.Warn("schedule: trigger failed", zap.Error(err))
			continue
		}
		log.Info("schedule: report triggered")
		started++
	}
	return started, nil
}

// Run ticks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	zap.L().Info("schedule: ticker started", zap.Duration("interval", t.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
			if n, err := t.Tick(ctx); err != nil {
				zap.L().Error("schedule: tick failed", zap.Error(err))
			} else if n > 0 {
				zap.L().Info("schedule: tick", zap.Int("triggered", n))
			}
		}
	}
}
