// Package metrics exports queue activity to Prometheus.
package metrics

import (
	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docqueue"

// StatsSource is satisfied by *queue.Manager.
type StatsSource interface {
	Stats() queue.Stats
}

type Collector struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// New registers the queue metrics on reg. Job counts per status and the
// active worker count are read from src at scrape time.
func New(reg prometheus.Registerer, src StatsSource) *Collector {
	f := promauto.With(reg)

	c := &Collector{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs submitted, by type.",
		}, []string{"type"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Finished attempts and cancellations, by type and outcome.",
		}, []string{"type", "outcome"}), // outcome: completed, retrying, failed, cancelled
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of job attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
	}

	for _, status := range config.AllowedJobStatuses {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "jobs",
			Help:        "Jobs currently held by the scheduler, by status.",
			ConstLabels: prometheus.Labels{"status": string(status)},
		}, func() float64 {
			return float64(countStatus(src.Stats(), status))
		})
	}

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_workers",
		Help:      "Execution units currently running.",
	}, func() float64 {
		return float64(src.Stats().ActiveWorkers)
	})

	return c
}

// Observe is a queue.Observer.
func (c *Collector) Observe(ev queue.Event) {
	if ev.Job == nil {
		return
	}
	jobType := string(ev.Job.Type)

	switch ev.Type {
	case queue.EventJobAdded:
		c.submitted.WithLabelValues(jobType).Inc()
	case queue.EventJobCompleted:
		c.finished.WithLabelValues(jobType, "completed").Inc()
		c.duration.WithLabelValues(jobType).Observe(ev.Duration.Seconds())
	case queue.EventJobRetrying:
		c.finished.WithLabelValues(jobType, "retrying").Inc()
		c.duration.WithLabelValues(jobType).Observe(ev.Duration.Seconds())
	case queue.EventJobFailed:
		c.finished.WithLabelValues(jobType, "failed").Inc()
		if ev.Duration > 0 {
			c.duration.WithLabelValues(jobType).Observe(ev.Duration.Seconds())
		}
	case queue.EventJobCancelled:
		c.finished.WithLabelValues(jobType, "cancelled").Inc()
	}
}

func countStatus(s queue.Stats, status config.JobStatus) int {
	switch status {
	case config.JobStatusQueued:
		return s.Queued
	case config.JobStatusProcessing:
		return s.Processing
	case config.JobStatusCompleted:
		return s.Completed
	case config.JobStatusFailed:
		return s.Failed
	default:
		return 0
	}
}
