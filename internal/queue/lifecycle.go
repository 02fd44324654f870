package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
)

// Start prepares the store, recovers unfinished jobs and starts the
// scheduling and cleanup loops. ctx only bounds startup.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure job schema: %w", err)
		}
	}

	base := context.WithoutCancel(ctx)
	runCtx, cancelRun := context.WithCancel(base)
	loopCtx, stopLoops := context.WithCancel(base)

	m.mu.Lock()
	m.started = true
	m.runCtx = runCtx
	m.cancelRun = cancelRun
	m.stopLoops = stopLoops
	// jobs submitted before the schema existed
	m.flushUnsavedLocked(ctx)
	m.mu.Unlock()

	m.recover(ctx)

	m.loops.Add(2)
	go m.run(loopCtx)
	go m.janitor(loopCtx)

	m.logger.Info("queue manager started",
		"max_concurrent", m.maxConcurrent,
		"tick_interval", m.tickInterval,
		"cleanup_interval", m.cleanupInterval,
	)
	m.trigger()
	return nil
}

// recover loads jobs left queued or processing by a previous run. They come
// back queued and immediately eligible. A job that was already on its last
// attempt is failed instead.
func (m *Manager) recover(ctx context.Context) {
	if m.store == nil {
		return
	}

	sctx, cancel := m.storeContext(ctx)
	pending, err := m.store.LoadPending(sctx)
	cancel()
	if err != nil {
		m.logger.Error("failed to load pending jobs", "error", err)
		return
	}

	m.mu.Lock()
	now := m.now()
	var (
		events           []Event
		requeued, failed int
	)
	for i := range pending {
		j := pending[i]
		if _, exists := m.jobs[j.ID]; exists {
			continue
		}

		j.RetryAfter = nil
		if j.MaxAttempts <= 0 {
			j.MaxAttempts = config.DefaultMaxAttempts
		}

		if j.Attempts >= j.MaxAttempts {
			j.Status = config.JobStatusFailed
			j.Error = config.InterruptedFinalTry
			j.CompletedAt = &now
			failed++
			m.addLocked(&j)
			m.persistLocked(ctx, &j)
			events = append(events, jobEvent(EventJobFailed, &j, now))
			continue
		}

		wasProcessing := j.Status == config.JobStatusProcessing
		j.Status = config.JobStatusQueued
		m.addLocked(&j)
		m.persistLocked(ctx, &j)
		if wasProcessing {
			requeued++
			events = append(events, jobEvent(EventJobRequeued, &j, now))
		}
	}
	m.mu.Unlock()

	if len(pending) > 0 {
		m.logger.Info("recovered pending jobs", "loaded", len(pending), "requeued", requeued, "failed", failed)
	}
	m.emit(events...)
}

// Shutdown stops scheduling, waits for running jobs up to the shutdown
// timeout or ctx expiry, kills whatever is left and puts those jobs back in
// the queue. It returns ctx.Err() if ctx expired while waiting.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info("queue manager shutting down")
	m.stopLoops()
	m.loops.Wait()

	waitErr := m.waitIdle(ctx)

	m.mu.Lock()
	m.abandoned = true
	m.mu.Unlock()

	if n := m.runner.Active(); n > 0 {
		m.logger.Warn("killing active workers", "count", n)
		m.runner.KillAll()
	}

	m.mu.Lock()
	now := m.now()
	var events []Event
	for _, j := range m.jobs {
		if j.Status != config.JobStatusProcessing {
			continue
		}
		// a killed attempt does not count toward MaxAttempts
		j.Status = config.JobStatusQueued
		j.Attempts = max(j.Attempts-1, 0)
		j.RetryAfter = nil
		m.persistLocked(ctx, j)
		events = append(events, jobEvent(EventJobRequeued, j, now))
		m.logger.Warn("job requeued on shutdown", "job_id", j.ID, "job_type", j.Type, "attempt", j.Attempts)
	}
	m.mu.Unlock()
	m.emit(events...)

	m.cancelRun()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	m.logger.Info("queue manager stopped", "requeued", len(events))
	return waitErr
}

func (m *Manager) waitIdle(ctx context.Context) error {
	timeout := time.NewTimer(m.shutdownTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(m.shutdownPoll)
	defer poll.Stop()

	for {
		m.mu.Lock()
		n := m.processingLocked()
		m.mu.Unlock()
		if n == 0 {
			return nil
		}

		m.logger.Info("waiting for running jobs", "processing", n)
		select {
		case <-poll.C:
		case <-timeout.C:
			m.logger.Warn("shutdown timeout reached", "processing", n, "timeout", m.shutdownTimeout)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
