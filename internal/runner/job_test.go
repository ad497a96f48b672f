package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/resilience"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 120*time.Second, p.Backoff)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, 1, RetryPolicy{MaxRetries: -1}.MaxAttempts())
}

func TestNewJob_DefaultTimeout(t *testing.T) {
	j := NewJob(nil, DefaultRetryPolicy(), 0)
	assert.Equal(t, DefaultJobTimeout, j.Timeout())
	assert.Equal(t, 1800*time.Second, j.Timeout())
}

func TestJob_RetriesSystemicFailureWithFreshRun(t *testing.T) {
	st := newTestStore(t)
	st.createRunFails = 1
	report := seedReport(t, st, 2, "plumber")

	job := NewJob(New(st, &fakeProvider{}, Config{}), RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, time.Minute)
	run, err := job.Run(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	latest, err := st.GetLatestRun(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, latest.ID)

	got, err := st.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusCompleted, got.Status)
}

func TestJob_ExhaustsBudgetAndLeavesReportFailed(t *testing.T) {
	st := newTestStore(t)
	st.upsertErr = errors.New("disk full")
	report := seedReport(t, st, 2, "plumber")

	job := NewJob(New(st, &fakeProvider{}, Config{}), RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}, time.Minute)
	run, err := job.Run(context.Background(), report.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	runs, err := st.ListRuns(context.Background(), report.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusFailed, r.Status)
	}
	assert.Equal(t, 3, runs[0].Attempt)

	require.NotNil(t, run)
	assert.Equal(t, runs[0].ID, run.ID)
	assert.Equal(t, 3, run.Attempt)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "disk full")

	got, err := st.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReportStatusFailed, got.Status)
}

func TestJob_MissingReportNotRetried(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{}

	job := NewJob(New(st, prov, Config{}), RetryPolicy{MaxRetries: 2, Backoff: time.Hour}, time.Minute)

	start := time.Now()
	_, err := job.Run(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReportNotFound))
	assert.True(t, resilience.IsPermanent(err))
	assert.Less(t, time.Since(start), time.Minute)
}

func TestJob_CancelledContextStopsRetries(t *testing.T) {
	st := newTestStore(t)
	st.createRunFails = 10
	report := seedReport(t, st, 2, "plumber")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	job := NewJob(New(st, &fakeProvider{}, Config{}), RetryPolicy{MaxRetries: 5, Backoff: time.Hour}, time.Minute)
	start := time.Now()
	_, err := job.Run(ctx, report.ID)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
