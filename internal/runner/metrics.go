package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sells-group/rankgrid/internal/resilience"
)

// Metrics records orchestrator activity. A nil *Metrics records nothing.
type Metrics struct {
	samples        *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	providerErrors *prometheus.CounterVec
}

// NewMetrics creates the run metrics and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankgrid",
			Name:      "samples_total",
			Help:      "Keyword x grid point samples processed, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankgrid",
			Name:      "runs_total",
			Help:      "Run attempts finished, by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rankgrid",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of run attempts.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rankgrid",
			Name:      "provider_errors_total",
			Help:      "Places provider errors, by operation and transient or permanent class.",
		}, []string{"operation", "class"}),
	}
	if reg != nil {
		reg.MustRegister(m.samples, m.runs, m.runDuration, m.providerErrors)
	}
	return m
}

func (m *Metrics) sample(outcome string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(outcome).Inc()
}

func (m *Metrics) run(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) providerError(op string, err error) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(op, resilience.ClassifyError(err)).Inc()
}
