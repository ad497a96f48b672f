package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/resilience"
)

// runScanLimit bounds how many runs one collection reads.
const runScanLimit = 10000

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunFailRate   float64 `json:"run_fail_rate"`

	// Samples of completed runs. A failed sample is a placeholder left by a
	// provider error.
	SamplesTotal   int     `json:"samples_total"`
	SamplesFailed  int     `json:"samples_failed"`
	SampleFailRate float64 `json:"sample_fail_rate"`

	AvgTop3Percent float64 `json:"avg_top3_percent"`

	// Provider operations whose circuit is not closed.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister lists runs of every report started since a time.
type RunLister interface {
	ListRunsSince(ctx context.Context, since time.Time, limit int) ([]model.Run, error)
}

// BreakerSource reports provider circuit states by operation.
type BreakerSource interface {
	States() map[string]resilience.CircuitState
}

// Collector gathers metrics from the store and the provider breakers.
type Collector struct {
	runs     RunLister
	breakers BreakerSource
	now      func() time.Time
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(runs RunLister, breakers BreakerSource) *Collector {
	return &Collector{runs: runs, breakers: breakers, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.runs.ListRunsSince(ctx, cutoff, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var top3Sum float64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
			snap.SamplesTotal += r.PointsCompleted
			snap.SamplesFailed += r.Stats.FailedCount
			top3Sum += r.Stats.Top3Percent
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.SamplesTotal > 0 {
		snap.SampleFailRate = float64(snap.SamplesFailed) / float64(snap.SamplesTotal)
	}
	if snap.RunsCompleted > 0 {
		snap.AvgTop3Percent = top3Sum / float64(snap.RunsCompleted)
	}

	if c.breakers != nil {
		for op, state := range c.breakers.States() {
			if state != resilience.CircuitClosed {
				snap.OpenCircuits = append(snap.OpenCircuits, op)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}

	return snap, nil
}
