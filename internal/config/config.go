package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Rank       RankConfig       `yaml:"rank" mapstructure:"rank"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Google Places and Geocoding settings.
type GoogleConfig struct {
	APIKey          string        `yaml:"api_key" mapstructure:"api_key"`
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst           int           `yaml:"burst" mapstructure:"burst"`
	HTTPTimeoutSecs int           `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	Retry           RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit         CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures per-call retries against the provider.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the provider circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RankConfig configures run execution.
type RankConfig struct {
	SearchRadiusM    float64 `yaml:"search_radius_m" mapstructure:"search_radius_m"`
	CheckpointEvery  int     `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoffSecs int     `yaml:"retry_backoff_secs" mapstructure:"retry_backoff_secs"`
	JobTimeoutSecs   int     `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
}

// RetryBackoff is the fixed delay between job attempts.
func (c RankConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSecs) * time.Second
}

// JobTimeout bounds one job attempt.
func (c RankConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSecs) * time.Second
}

// DispatchConfig selects where jobs run.
type DispatchConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"` // local or temporal
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// TemporalConfig holds Temporal connection settings.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ScheduleConfig configures the recurring report ticker.
type ScheduleConfig struct {
	Enabled      bool `yaml:"enabled" mapstructure:"enabled"`
	IntervalSecs int  `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// MonitoringConfig configures failure alerting.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SampleFailureThreshold float64 `yaml:"sample_failure_threshold" mapstructure:"sample_failure_threshold"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RANKGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "rankgrid.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("google.api_key", "")
	v.SetDefault("google.rate_limit", 10.0)
	v.SetDefault("google.burst", 5)
	v.SetDefault("google.http_timeout_secs", 30)
	v.SetDefault("google.retry.max_attempts", 3)
	v.SetDefault("google.retry.initial_backoff_ms", 500)
	v.SetDefault("google.retry.max_backoff_ms", 10000)
	v.SetDefault("google.circuit.failure_threshold", 5)
	v.SetDefault("google.circuit.reset_timeout_secs", 60)
	v.SetDefault("rank.search_radius_m", 2000.0)
	v.SetDefault("rank.checkpoint_every", 10)
	v.SetDefault("rank.max_retries", 2)
	v.SetDefault("rank.retry_backoff_secs", 120)
	v.SetDefault("rank.job_timeout_secs", 1800)
	v.SetDefault("dispatch.mode", "local")
	v.SetDefault("dispatch.concurrency", 4)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "rankgrid")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.interval_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.sample_failure_threshold", 0.10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate checks the settings a command mode needs: "serve", "worker",
// "migrate", or "cli" (store access only). All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	storeProblems := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
		}
	}
	rankProblems := func() {
		if c.Google.APIKey == "" {
			errs = append(errs, "google.api_key is required")
		}
		if c.Rank.MaxRetries < 0 {
			errs = append(errs, "rank.max_retries must be >= 0")
		}
		if c.Rank.CheckpointEvery < 1 {
			errs = append(errs, "rank.checkpoint_every must be >= 1")
		}
	}

	switch mode {
	case "serve":
		storeProblems()
		rankProblems()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		switch c.Dispatch.Mode {
		case "local":
			if c.Dispatch.Concurrency < 1 || c.Dispatch.Concurrency > 64 {
				errs = append(errs, "dispatch.concurrency must be between 1 and 64")
			}
		case "temporal":
			if c.Temporal.HostPort == "" {
				errs = append(errs, "temporal.host_port is required for temporal dispatch")
			}
		default:
			errs = append(errs, fmt.Sprintf("unknown dispatch.mode %q", c.Dispatch.Mode))
		}
		if c.Monitoring.WebhookURL != "" {
			if c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1 {
				errs = append(errs, "monitoring.failure_rate_threshold must be in (0, 1]")
			}
			if c.Monitoring.SampleFailureThreshold <= 0 || c.Monitoring.SampleFailureThreshold > 1 {
				errs = append(errs, "monitoring.sample_failure_threshold must be in (0, 1]")
			}
		}
	case "worker":
		storeProblems()
		rankProblems()
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
	case "migrate", "cli":
		storeProblems()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
