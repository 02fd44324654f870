package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats queue.Stats

func (f fixedStats) Stats() queue.Stats { return queue.Stats(f) }

func event(t queue.EventType, jobType config.JobType, d time.Duration) queue.Event {
	return queue.Event{Type: t, Job: &models.Job{ID: "j", Type: jobType}, Duration: d}
}

func TestCollector_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, fixedStats{})

	c.Observe(event(queue.EventJobAdded, config.JobTypeIndexDocument, 0))
	c.Observe(event(queue.EventJobAdded, config.JobTypeIndexDocument, 0))
	c.Observe(event(queue.EventJobStarted, config.JobTypeIndexDocument, 0))
	c.Observe(event(queue.EventJobRetrying, config.JobTypeIndexDocument, 300*time.Millisecond))
	c.Observe(event(queue.EventJobCompleted, config.JobTypeIndexDocument, 200*time.Millisecond))
	c.Observe(event(queue.EventJobFailed, config.JobTypeGenerateSummary, time.Second))
	c.Observe(event(queue.EventJobCancelled, config.JobTypeGenerateSummary, 0))
	c.Observe(queue.Event{Type: queue.EventJobsCleaned, Count: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submitted.WithLabelValues("index-document")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("index-document", "retrying")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("index-document", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("generate-summary", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finished.WithLabelValues("generate-summary", "cancelled")))

	// two index-document attempts and one generate-summary attempt were timed
	assert.Equal(t, 2, testutil.CollectAndCount(c.duration))
}

func TestCollector_Gauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg, fixedStats{Queued: 4, Processing: 2, Completed: 7, Failed: 1, ActiveWorkers: 2})

	expected := `
# HELP docqueue_active_workers Execution units currently running.
# TYPE docqueue_active_workers gauge
docqueue_active_workers 2
# HELP docqueue_jobs Jobs currently held by the scheduler, by status.
# TYPE docqueue_jobs gauge
docqueue_jobs{status="completed"} 7
docqueue_jobs{status="failed"} 1
docqueue_jobs{status="processing"} 2
docqueue_jobs{status="queued"} 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "docqueue_jobs", "docqueue_active_workers")
	require.NoError(t, err)
}
