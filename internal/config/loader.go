package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/stockimport/internal/db"
	"github.com/rpattn/stockimport/internal/domain"
	"github.com/rpattn/stockimport/internal/logging"
	"github.com/rpattn/stockimport/internal/quality"
	"github.com/rpattn/stockimport/internal/resilience"
	"github.com/rpattn/stockimport/internal/validation"

	"github.com/spf13/viper"
)

const envPrefix = "STOCKIMPORT"

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Database   db.Config          `mapstructure:"database"`
	Logging    logging.Config     `mapstructure:"logging"`
	Pipeline   PipelineConfig     `mapstructure:"pipeline"`
	Validation validation.Policy  `mapstructure:"validation"`
	Quality    quality.Thresholds `mapstructure:"quality"`
	Resilience resilience.Config  `mapstructure:"resilience"`
	NATS       NATSConfig         `mapstructure:"nats"`
	RateLimit  RateLimitConfig    `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

type PipelineConfig struct {
	MaxRows           int `mapstructure:"max_rows"`
	FuzzyDistance     int `mapstructure:"fuzzy_distance"`
	ParallelThreshold int `mapstructure:"parallel_threshold"`
	// DateOrder reads numeric dates as day-first (DMY) or month-first (MDY).
	DateOrder domain.DateOrder `mapstructure:"date_order"`
}

// NATSConfig enables lifecycle events when URL is set.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

type RateLimitConfig struct {
	UploadsPerSecond float64 `mapstructure:"uploads_per_second"`
	Burst            int     `mapstructure:"burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_upload_bytes", 32<<20)

	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)
	v.SetDefault("database.min_conns", dbDefaults.MinConns)

	logDefaults := logging.DefaultConfig()
	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.format", logDefaults.Format)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("logging.compress", logDefaults.Compress)

	v.SetDefault("pipeline.max_rows", 50000)
	v.SetDefault("pipeline.fuzzy_distance", 2)
	v.SetDefault("pipeline.parallel_threshold", 10000)
	v.SetDefault("pipeline.date_order", string(domain.DateOrderDMY))

	policy := validation.DefaultPolicy()
	v.SetDefault("validation.rate_variance_pct", policy.RateVariancePct)
	v.SetDefault("validation.quantity_variance_pct", policy.QuantityVariancePct)
	v.SetDefault("validation.allowed_units", []string{})

	thresholds := quality.DefaultThresholds()
	v.SetDefault("quality.review_source", thresholds.ReviewSource)
	v.SetDefault("quality.completeness", thresholds.Completeness)
	v.SetDefault("quality.accuracy", thresholds.Accuracy)
	v.SetDefault("quality.consistency", thresholds.Consistency)
	v.SetDefault("quality.validity", thresholds.Validity)

	res := resilience.DefaultConfig()
	v.SetDefault("resilience.retry_max_attempts", res.RetryMaxAttempts)
	v.SetDefault("resilience.retry_initial_backoff", res.RetryInitialBackoff)
	v.SetDefault("resilience.retry_max_backoff", res.RetryMaxBackoff)
	v.SetDefault("resilience.retry_multiplier", res.RetryMultiplier)
	v.SetDefault("resilience.breaker_enabled", res.BreakerEnabled)
	v.SetDefault("resilience.breaker_min_requests", res.BreakerMinRequests)
	v.SetDefault("resilience.breaker_failure_ratio", res.BreakerFailureRatio)
	v.SetDefault("resilience.breaker_open_timeout", res.BreakerOpenTimeout)
	v.SetDefault("resilience.breaker_half_open_max_calls", res.BreakerHalfOpenMaxCalls)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "stockimport")
	v.SetDefault("nats.connect_timeout", "2s")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", 60)

	v.SetDefault("rate_limit.uploads_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 5)
}

// Load reads config.yaml from configPath when present, then applies STOCKIMPORT_* environment
// overrides such as STOCKIMPORT_DATABASE_HOST.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if order, err := domain.ParseDateOrder(string(cfg.Pipeline.DateOrder)); err == nil {
		cfg.Pipeline.DateOrder = order
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Port <= 0 {
		return errors.New("database.port must be positive")
	}
	if c.Pipeline.MaxRows < 0 {
		return errors.New("pipeline.max_rows must not be negative")
	}
	if c.Pipeline.FuzzyDistance < 0 {
		return errors.New("pipeline.fuzzy_distance must not be negative")
	}
	if c.Pipeline.DateOrder != domain.DateOrderDMY && c.Pipeline.DateOrder != domain.DateOrderMDY {
		return fmt.Errorf("pipeline.date_order must be DMY or MDY, got %q", c.Pipeline.DateOrder)
	}
	if c.RateLimit.UploadsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	return nil
}
