package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	IsolationProcess   = "process"
	IsolationGoroutine = "goroutine"

	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the scheduler and service settings. Database settings live
// with the postgres storage package.
type Config struct {
	MaxConcurrent   int           `env:"QUEUE_MAX_CONCURRENT,default=1"`
	TickInterval    time.Duration `env:"QUEUE_TICK_INTERVAL,default=1s"`
	CleanupInterval time.Duration `env:"QUEUE_CLEANUP_INTERVAL,default=1h"`
	CleanupMaxAge   time.Duration `env:"QUEUE_CLEANUP_MAX_AGE,default=24h"`
	JobTimeout      time.Duration `env:"QUEUE_JOB_TIMEOUT,default=5m"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT,default=30s"`
	ShutdownPoll    time.Duration `env:"QUEUE_SHUTDOWN_POLL,default=500ms"`
	RetryBase       time.Duration `env:"QUEUE_RETRY_BASE,default=1s"`
	RetryCap        time.Duration `env:"QUEUE_RETRY_CAP,default=30s"`
	Isolation       string        `env:"QUEUE_ISOLATION,default=process"`
	Store           string        `env:"QUEUE_STORE,default=postgres"`
	SQLitePath      string        `env:"SQLITE_PATH,default=docqueue.db"`
	HTTPAddr        string        `env:"HTTP_ADDR,default=:8080"`
	AMQPURL         string        `env:"AMQP_URL"`
	AMQPExchange    string        `env:"AMQP_EXCHANGE,default=docqueue.events"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`
}

// to help with testing
var envProcess = envconfig.Process

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errors []string

	if c.MaxConcurrent < 1 {
		errors = append(errors, "QUEUE_MAX_CONCURRENT must be at least 1")
	}
	if c.TickInterval <= 0 {
		errors = append(errors, "QUEUE_TICK_INTERVAL must be positive")
	}
	if c.CleanupInterval <= 0 {
		errors = append(errors, "QUEUE_CLEANUP_INTERVAL must be positive")
	}
	if c.CleanupMaxAge <= 0 {
		errors = append(errors, "QUEUE_CLEANUP_MAX_AGE must be positive")
	}
	if c.JobTimeout <= 0 {
		errors = append(errors, "QUEUE_JOB_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		errors = append(errors, "QUEUE_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.ShutdownPoll <= 0 || c.ShutdownPoll > c.ShutdownTimeout {
		errors = append(errors, "QUEUE_SHUTDOWN_POLL must be positive and not exceed QUEUE_SHUTDOWN_TIMEOUT")
	}
	if c.RetryBase <= 0 {
		errors = append(errors, "QUEUE_RETRY_BASE must be positive")
	}
	if c.RetryCap < c.RetryBase {
		errors = append(errors, "QUEUE_RETRY_CAP must not be smaller than QUEUE_RETRY_BASE")
	}

	switch c.Isolation {
	case IsolationProcess, IsolationGoroutine:
	default:
		errors = append(errors, "QUEUE_ISOLATION must be one of process, goroutine")
	}

	switch c.Store {
	case StorePostgres:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errors = append(errors, "SQLITE_PATH is required when QUEUE_STORE=sqlite")
		}
	default:
		errors = append(errors, "QUEUE_STORE must be one of postgres, sqlite")
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errors = append(errors, "HTTP_ADDR is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLogLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func ParseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
