package config

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		MaxConcurrent:   1,
		TickInterval:    time.Second,
		CleanupInterval: time.Hour,
		CleanupMaxAge:   24 * time.Hour,
		JobTimeout:      5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		ShutdownPoll:    500 * time.Millisecond,
		RetryBase:       time.Second,
		RetryCap:        30 * time.Second,
		Isolation:       IsolationProcess,
		Store:           StorePostgres,
		SQLitePath:      "docqueue.db",
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		setupEnv      func(*Config) error
		expectError   bool
		errorContains string
		validate      func(*testing.T, *Config)
	}{
		{
			name: "valid configuration",
			setupEnv: func(cfg *Config) error {
				*cfg = validConfig()
				return nil
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1, cfg.MaxConcurrent)
				assert.Equal(t, time.Second, cfg.RetryBase)
				assert.Equal(t, 30*time.Second, cfg.RetryCap)
			},
		},
		{
			name: "env processing error",
			setupEnv: func(cfg *Config) error {
				return errors.New("env: bad duration")
			},
			expectError:   true,
			errorContains: "failed to process env config",
		},
		{
			name: "validation error after successful env processing",
			setupEnv: func(cfg *Config) error {
				*cfg = validConfig()
				cfg.MaxConcurrent = 0
				return nil
			},
			expectError:   true,
			errorContains: "config validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := envProcess
			defer func() { envProcess = original }()

			envProcess = func(ctx context.Context, v any, mus ...envconfig.Mutator) error {
				return tt.setupEnv(v.(*Config))
			}

			cfg, err := Load(context.Background())
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}

			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		errorContains []string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:          "sqlite without path",
			mutate:        func(c *Config) { c.Store = StoreSQLite; c.SQLitePath = " " },
			errorContains: []string{"SQLITE_PATH is required"},
		},
		{
			name:          "unknown isolation",
			mutate:        func(c *Config) { c.Isolation = "thread" },
			errorContains: []string{"QUEUE_ISOLATION"},
		},
		{
			name: "multiple problems are joined",
			mutate: func(c *Config) {
				c.RetryBase = 10 * time.Second
				c.RetryCap = time.Second
				c.Store = "mongo"
			},
			errorContains: []string{"QUEUE_RETRY_CAP", "QUEUE_STORE"},
		},
		{
			name:          "poll longer than shutdown timeout",
			mutate:        func(c *Config) { c.ShutdownPoll = time.Minute },
			errorContains: []string{"QUEUE_SHUTDOWN_POLL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.errorContains) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			for _, substr := range tt.errorContains {
				assert.Contains(t, err.Error(), substr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLogLevel("verbose"))
}

func TestJobStatus(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.False(t, JobStatus("pending").Valid())
	assert.True(t, JobTypeGenerateSummary.Valid())
	assert.False(t, JobType("send_email").Valid())
}
