package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/rankgrid/internal/db"
	"github.com/sells-group/rankgrid/internal/dispatch"
	"github.com/sells-group/rankgrid/internal/places"
	"github.com/sells-group/rankgrid/internal/report"
	"github.com/sells-group/rankgrid/internal/resilience"
	"github.com/sells-group/rankgrid/internal/runner"
	"github.com/sells-group/rankgrid/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "rankgrid.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and applies migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initProvider() *places.GoogleProvider {
	hc := &http.Client{Timeout: time.Duration(cfg.Google.HTTPTimeoutSecs) * time.Second}
	return places.NewGoogleProviderFromKey(cfg.Google.APIKey, hc, places.Config{
		RateLimit: cfg.Google.RateLimit,
		Burst:     cfg.Google.Burst,
		Retry: resilience.FromRetryConfig(
			cfg.Google.Retry.MaxAttempts,
			cfg.Google.Retry.InitialBackoffMs,
			cfg.Google.Retry.MaxBackoffMs,
		),
		Circuit: resilience.FromCircuitConfig(
			cfg.Google.Circuit.FailureThreshold,
			cfg.Google.Circuit.ResetTimeoutSecs,
		),
	})
}

func retryPolicy() runner.RetryPolicy {
	return runner.RetryPolicy{
		MaxRetries: cfg.Rank.MaxRetries,
		Backoff:    cfg.Rank.RetryBackoff(),
	}
}

// rankEnv holds the store, provider, and job shared by the serve, worker,
// and reports commands.
type rankEnv struct {
	Store    store.Store
	Provider *places.GoogleProvider
	Job      *runner.Job
	Registry *prometheus.Registry

	// Set by withDispatcher.
	Dispatcher dispatch.Dispatcher
	Service    *report.Service
	local      *dispatch.Local
	temporal   client.Client
}

// Close releases resources held by the environment. Jobs still running on a
// local dispatcher are cancelled first.
func (e *rankEnv) Close() {
	if e.local != nil {
		e.local.Close()
	}
	if e.temporal != nil {
		e.temporal.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// WaitLocal blocks until locally dispatched jobs finish. It is a no-op for
// Temporal dispatch.
func (e *rankEnv) WaitLocal() {
	if e.local != nil {
		e.local.Wait()
	}
}

// initRankEnv validates cfg for mode, opens the store, and builds the
// provider and job. Callers should defer env.Close().
func initRankEnv(ctx context.Context, mode string) (*rankEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	provider := initProvider()
	orch := runner.New(st, provider, runner.Config{
		CheckpointEvery: cfg.Rank.CheckpointEvery,
		SearchRadiusM:   cfg.Rank.SearchRadiusM,
	}, runner.WithMetrics(runner.NewMetrics(reg)))

	return &rankEnv{
		Store:    st,
		Provider: provider,
		Job:      runner.NewJob(orch, retryPolicy(), cfg.Rank.JobTimeout()),
		Registry: reg,
	}, nil
}

// withDispatcher attaches the configured dispatcher and the report service.
func (e *rankEnv) withDispatcher() error {
	switch cfg.Dispatch.Mode {
	case "temporal":
		c, err := dispatch.Dial(dispatch.DialOptions{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return err
		}
		e.temporal = c
		e.Dispatcher = dispatch.NewTemporal(c, dispatch.TemporalConfig{
			TaskQueue: cfg.Temporal.TaskQueue,
			Policy:    retryPolicy(),
			Timeout:   cfg.Rank.JobTimeout(),
		})
		zap.L().Info("dispatching runs to temporal",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue),
		)
	default:
		e.local = dispatch.NewLocal(e.Job, cfg.Dispatch.Concurrency)
		e.Dispatcher = e.local
		zap.L().Info("dispatching runs in process", zap.Int("concurrency", cfg.Dispatch.Concurrency))
	}

	e.Service = report.NewService(e.Store, e.Provider, e.Dispatcher)
	return nil
}
