package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeLister struct {
	reports []model.Report
	err     error
}

func (f *fakeLister) ListScheduledReports(context.Context) ([]model.Report, error) {
	return f.reports, f.err
}

type fakeTrigger struct {
	triggered []string
	errs      map[string]error
}

func (f *fakeTrigger) TriggerRun(_ context.Context, id string) (*model.Run, error) {
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	f.triggered = append(f.triggered, id)
	return &model.Run{ReportID: id, Status: model.RunStatusRunning}, nil
}

var errBusy = errors.New("busy")

func TestTicker_TriggersDueReports(t *testing.T) {
	now := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	recent := now.Add(-30 * time.Minute)
	daily := model.Schedule{Frequency: Daily, Hour: 9}

	lister := &fakeLister{reports: []model.Report{
		{ID: "due", Schedule: daily, Status: model.ReportStatusCompleted, LastRunAt: &yesterday},
		{ID: "fresh", Schedule: daily, Status: model.ReportStatusCompleted, LastRunAt: &recent},
		{ID: "never-run", Schedule: daily, Status: model.ReportStatusPending, CreatedAt: yesterday},
		{ID: "running", Schedule: daily, Status: model.ReportStatusRunning, LastRunAt: &yesterday},
		{ID: "failed", Schedule: daily, Status: model.ReportStatusFailed, LastRunAt: &yesterday},
		{ID: "busy", Schedule: daily, Status: model.ReportStatusCompleted, LastRunAt: &yesterday},
		{ID: "broken", Schedule: daily, Status: model.ReportStatusCompleted, LastRunAt: &yesterday},
	}}
	trigger := &fakeTrigger{errs: map[string]error{
		"busy":   errBusy,
		"broken": errors.New("store down"),
	}}

	tk := NewTicker(lister, trigger, time.Minute,
		WithClock(func() time.Time { return now }),
		WithSkip(func(err error) bool { return errors.Is(err, errBusy) }),
	)
	n, err := tk.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"due", "never-run"}, trigger.triggered)
}

// failingTrigger ends every job failed without moving LastRunAt, as a job
// that spent its retry budget does.
type failingTrigger struct {
	lister    *fakeLister
	triggered int
}

func (f *failingTrigger) TriggerRun(_ context.Context, id string) (*model.Run, error) {
	f.triggered++
	for i := range f.lister.reports {
		if f.lister.reports[i].ID == id {
			f.lister.reports[i].Status = model.ReportStatusFailed
		}
	}
	return &model.Run{ReportID: id, Status: model.RunStatusRunning}, nil
}

func TestTicker_FailedReportNotRetriggered(t *testing.T) {
	lastRun := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	lister := &fakeLister{reports: []model.Report{
		{ID: "r1", Schedule: model.Schedule{Frequency: Daily, Hour: 9}, Status: model.ReportStatusCompleted, LastRunAt: &lastRun},
	}}
	trigger := &failingTrigger{lister: lister}

	now := time.Date(2026, 3, 11, 9, 1, 0, 0, time.UTC)
	tk := NewTicker(lister, trigger, time.Minute, WithClock(func() time.Time { return now }))
	for i := 0; i < 5; i++ {
		_, err := tk.Tick(context.Background())
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}
	assert.Equal(t, 1, trigger.triggered)
	assert.Equal(t, model.ReportStatusFailed, lister.reports[0].Status)

	// A manual run that completes puts the report back on the schedule.
	lister.reports[0].Status = model.ReportStatusCompleted
	now = time.Date(2026, 3, 12, 9, 1, 0, 0, time.UTC)
	n, err := tk.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, trigger.triggered)
}

func TestTicker_ListError(t *testing.T) {
	tk := NewTicker(&fakeLister{err: errors.New("db down")}, &fakeTrigger{}, 0)
	_, err := tk.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list scheduled reports")
	assert.Equal(t, DefaultInterval, tk.interval)
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	tk := NewTicker(&fakeLister{}, &fakeTrigger{}, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop")
	}
}
