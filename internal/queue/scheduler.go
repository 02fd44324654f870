package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/worker"
	"gorm.io/datatypes"
)

type dispatch struct {
	req     worker.Request
	attempt int
}

// schedule fills every free slot with the best eligible job.
func (m *Manager) schedule() {
	m.mu.Lock()
	if !m.started || m.stopping {
		m.mu.Unlock()
		return
	}

	now := m.now()
	var (
		started []dispatch
		events  []Event
	)
	for m.processingLocked() < m.maxConcurrent {
		j := m.nextLocked(now)
		if j == nil {
			break
		}

		j.Status = config.JobStatusProcessing
		j.StartedAt = &now
		j.Attempts++
		j.RetryAfter = nil
		m.persistLocked(m.runCtx, j)

		m.inflight.Add(1)
		started = append(started, dispatch{
			req:     worker.Request{ID: j.ID, Type: j.Type, Payload: json.RawMessage(j.Payload)},
			attempt: j.Attempts,
		})
		events = append(events, jobEvent(EventJobStarted, j, now))
	}
	m.mu.Unlock()

	// started events go out before any outcome can
	m.emit(events...)
	for _, d := range started {
		m.logger.Info("job started", "job_id", d.req.ID, "job_type", d.req.Type, "attempt", d.attempt)
		go m.execute(d)
	}
}

// nextLocked picks the highest priority eligible job. Ties go to the oldest
// job, then to the earliest submitted.
func (m *Manager) nextLocked(now time.Time) *models.Job {
	var best *models.Job
	for _, j := range m.jobs {
		if j.Status != config.JobStatusQueued {
			continue
		}
		if j.RetryAfter != nil && j.RetryAfter.After(now) {
			continue
		}
		if best == nil || before(j, best) {
			best = j
		}
	}
	return best
}

func before(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (m *Manager) processingLocked() int {
	n := 0
	for _, j := range m.jobs {
		if j.Status == config.JobStatusProcessing {
			n++
		}
	}
	return n
}

func (m *Manager) execute(d dispatch) {
	defer m.inflight.Done()

	start := time.Now()
	res, err := m.runner.Run(m.runCtx, d.req)
	m.finish(d, res, err, time.Since(start))
}

// finish applies the outcome of one attempt. Outcomes for jobs that are no
// longer processing that attempt, such as jobs requeued during shutdown, are
// dropped.
func (m *Manager) finish(d dispatch, res json.RawMessage, runErr error, took time.Duration) {
	l := m.logger.With("job_id", d.req.ID, "job_type", d.req.Type, "attempt", d.attempt)

	m.mu.Lock()
	j, ok := m.jobs[d.req.ID]
	if !ok || m.abandoned || j.Status != config.JobStatusProcessing || j.Attempts != d.attempt {
		m.mu.Unlock()
		l.Debug("dropping outcome for job that is no longer running", "error", runErr)
		return
	}

	now := m.now()
	var (
		ev         Event
		retryDelay time.Duration
	)
	if runErr == nil {
		j.Status = config.JobStatusCompleted
		j.Result = datatypes.JSON(res)
		j.Error = ""
		j.CompletedAt = &now
		ev = jobEvent(EventJobCompleted, j, now)
	} else {
		j.Error = runErr.Error()
		decision := m.policy.Decide(j.Attempts, j.MaxAttempts, now)
		if decision.Retry {
			j.Status = config.JobStatusQueued
			j.RetryAfter = &decision.RetryAt
			retryDelay = decision.Delay
			ev = jobEvent(EventJobRetrying, j, now)
		} else {
			j.Status = config.JobStatusFailed
			j.CompletedAt = &now
			ev = jobEvent(EventJobFailed, j, now)
		}
	}
	m.persistLocked(m.runCtx, j)
	m.mu.Unlock()

	ev.Duration = took
	switch ev.Type {
	case EventJobCompleted:
		l.Info("job completed", "duration", took)
	case EventJobRetrying:
		l.Warn("job failed, retrying", "error", runErr, "kind", failureKind(runErr), "retry_in", retryDelay)
		time.AfterFunc(retryDelay, m.trigger)
	case EventJobFailed:
		l.Error("job failed", "error", runErr, "kind", failureKind(runErr))
	}

	m.emit(ev)
	m.trigger()
}

func failureKind(err error) string {
	var (
		he *worker.HandlerError
		te *worker.TimeoutError
		ce *worker.CrashError
	)
	switch {
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ce):
		return "crash"
	case errors.As(err, &he):
		return "handler"
	default:
		return "unknown"
	}
}

// run drives scheduling passes on every tick and on demand.
func (m *Manager) run(ctx context.Context) {
	defer m.loops.Done()

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.schedule()
		case <-m.wake:
			m.schedule()
		case <-ctx.Done():
			return
		}
	}
}

// janitor periodically drops old finished jobs.
func (m *Manager) janitor(ctx context.Context) {
	defer m.loops.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup(ctx, m.cleanupMaxAge)
		case <-ctx.Done():
			return
		}
	}
}
