package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rankgrid/internal/config"
	"github.com/sells-group/rankgrid/internal/model"
	"github.com/sells-group/rankgrid/internal/resilience"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&mockRuns{}, nil)
	alerter := NewAlerter(config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick once then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Run returned.
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_Defaults(t *testing.T) {
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, defaultCheckInterval, checker.interval)
	assert.Equal(t, 24, checker.lookback)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	now := time.Now().UTC()
	var runs []model.Run
	for i := range 6 {
		status := model.RunStatusFailed
		if i == 0 {
			status = model.RunStatusCompleted
		}
		runs = append(runs, model.Run{Status: status, StartedAt: now.Add(-time.Hour)})
	}

	cfg := config.MonitoringConfig{
		WebhookURL:             ts.URL,
		FailureRateThreshold:   0.25,
		SampleFailureThreshold: 0.10,
		LookbackWindowHours:    24,
	}
	checker := NewChecker(
		NewCollector(&mockRuns{runs: runs}, mockBreakers{"nearby_search": resilience.CircuitOpen}),
		NewAlerter(cfg),
		cfg,
	)

	sent, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CheckNoAlerts(t *testing.T) {
	cfg := config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1", FailureRateThreshold: 0.25}
	checker := NewChecker(NewCollector(&mockRuns{}, nil), NewAlerter(cfg), cfg)

	sent, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}
