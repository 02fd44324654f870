package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/metrics"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/joshu-sajeev/docqueue/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_EndToEnd(t *testing.T) {
	logger := testLogger()
	manager, err := queue.New(queue.Options{
		Runner:       worker.NewGoroutineRunner(worker.DefaultRegistry(), 5*time.Second, logger),
		Logger:       logger,
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	manager.Subscribe(metrics.New(reg, manager).Observe)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	srv := httptest.NewServer(newRouter(manager, reg, logger))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"type":"generate-summary","payload":{"document_id":"doc-1","content":"One. Two. Three. Four."}}`
	resp, err = http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)

	require.Eventually(t, func() bool {
		j, ok := manager.Get(created.ID)
		return ok && j.Status == config.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Get(srv.URL + "/jobs/" + created.ID)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "completed", got["status"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `docqueue_jobs_submitted_total{type="generate-summary"} 1`)
	assert.Contains(t, string(raw), `docqueue_jobs{status="completed"} 1`)
}

func TestNewRunner(t *testing.T) {
	cfg := &config.Config{Isolation: config.IsolationGoroutine, JobTimeout: time.Second}
	r, err := newRunner(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &worker.GoroutineRunner{}, r)

	cfg.Isolation = config.IsolationProcess
	r, err = newRunner(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &worker.ProcessRunner{}, r)
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	})

	t.Run("values do not override the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("DOCQUEUE_TEST_A=from-file\nDOCQUEUE_TEST_B=from-file\n"), 0o600))
		t.Setenv("DOCQUEUE_TEST_A", "from-env")
		t.Setenv("DOCQUEUE_TEST_B", "")
		os.Unsetenv("DOCQUEUE_TEST_B")

		require.NoError(t, loadEnvFile(path))
		assert.Equal(t, "from-env", os.Getenv("DOCQUEUE_TEST_A"))
		assert.Equal(t, "from-file", os.Getenv("DOCQUEUE_TEST_B"))
	})
}

func TestRootCmd(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = c.Hidden
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.True(t, names[execJobCommand])
}
