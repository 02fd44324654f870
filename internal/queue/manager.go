// Package queue owns the in-memory job table, picks the next job to run and
// drives each job through its lifecycle.
package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/retry"
	"github.com/joshu-sajeev/docqueue/internal/worker"
)

var (
	ErrAlreadyStarted = errors.New("queue manager already started")
	ErrNoRunner       = errors.New("queue manager requires a runner")
)

const defaultStoreTimeout = 5 * time.Second

// Store persists job records. Errors are logged by the manager and never
// surface to callers.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, job *models.Job) error
	LoadPending(ctx context.Context) ([]models.Job, error)
	DeleteOlderThan(ctx context.Context, statuses []config.JobStatus, cutoff time.Time) (int64, error)
}

type Options struct {
	// Store is optional; without it the manager is memory only.
	Store  Store
	Runner worker.Runner
	Policy retry.Policy
	Logger *slog.Logger

	MaxConcurrent   int
	TickInterval    time.Duration
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
	ShutdownTimeout time.Duration
	ShutdownPoll    time.Duration
	StoreTimeout    time.Duration

	// Now overrides the wall clock used for job timestamps.
	Now func() time.Time
}

type SubmitOptions struct {
	Priority    int
	MaxAttempts int
}

type Filter struct {
	Status config.JobStatus
	Type   config.JobType
}

type Stats struct {
	Total         int `json:"total"`
	Queued        int `json:"queued"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	ActiveWorkers int `json:"active_workers"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Manager schedules jobs onto a worker.Runner. All state changes happen under
// mu and are written to the store before mu is released, so the store sees
// transitions in the order they happened.
type Manager struct {
	store  Store
	runner worker.Runner
	policy retry.Policy
	logger *slog.Logger
	now    func() time.Time

	maxConcurrent   int
	tickInterval    time.Duration
	cleanupInterval time.Duration
	cleanupMaxAge   time.Duration
	shutdownTimeout time.Duration
	shutdownPoll    time.Duration
	storeTimeout    time.Duration

	mu   sync.Mutex
	jobs map[string]*models.Job
	// unsaved holds jobs whose latest write failed.
	unsaved  map[string]struct{}
	seq      uint64
	started  bool
	stopping bool
	// abandoned is set once shutdown starts killing; later outcomes are dropped.
	abandoned bool

	observers observers
	wake      chan struct{}

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopLoops context.CancelFunc
	loops     sync.WaitGroup
	inflight  sync.WaitGroup
}

func New(opts Options) (*Manager, error) {
	if opts.Runner == nil {
		return nil, ErrNoRunner
	}

	m := &Manager{
		store:           opts.Store,
		runner:          opts.Runner,
		policy:          opts.Policy,
		logger:          opts.Logger,
		now:             opts.Now,
		maxConcurrent:   opts.MaxConcurrent,
		tickInterval:    opts.TickInterval,
		cleanupInterval: opts.CleanupInterval,
		cleanupMaxAge:   opts.CleanupMaxAge,
		shutdownTimeout: opts.ShutdownTimeout,
		shutdownPoll:    opts.ShutdownPoll,
		storeTimeout:    opts.StoreTimeout,
		jobs:            make(map[string]*models.Job),
		unsaved:         make(map[string]struct{}),
		wake:            make(chan struct{}, 1),
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxConcurrent <= 0 {
		m.maxConcurrent = config.DefaultMaxConcurrent
	}
	if m.tickInterval <= 0 {
		m.tickInterval = config.DefaultTickInterval
	}
	if m.cleanupInterval <= 0 {
		m.cleanupInterval = time.Hour
	}
	if m.cleanupMaxAge <= 0 {
		m.cleanupMaxAge = 24 * time.Hour
	}
	if m.shutdownTimeout <= 0 {
		m.shutdownTimeout = 30 * time.Second
	}
	if m.shutdownPoll <= 0 {
		m.shutdownPoll = 500 * time.Millisecond
	}
	if m.storeTimeout <= 0 {
		m.storeTimeout = defaultStoreTimeout
	}

	return m, nil
}

// Submit records a new queued job and asks for a scheduling pass. It never
// waits for the job to run.
func (m *Manager) Submit(ctx context.Context, p dto.Payload, opts SubmitOptions) string {
	jobType := p.JobType()
	payload, err := json.Marshal(p)
	if err != nil {
		m.logger.Error("failed to encode job payload", "job_type", jobType, "error", err)
		payload = []byte("null")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxAttempts
	}

	m.mu.Lock()
	now := m.now()
	j := &models.Job{
		ID:          newJobID(jobType, now),
		Type:        jobType,
		Status:      config.JobStatusQueued,
		Payload:     payload,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
	}
	m.addLocked(j)
	m.persistLocked(ctx, j)
	ev := jobEvent(EventJobAdded, j, now)
	m.mu.Unlock()

	m.logger.Info("job added", "job_id", j.ID, "job_type", jobType, "priority", j.Priority)
	m.emit(ev)
	m.trigger()

	return j.ID
}

func (m *Manager) Get(id string) (models.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return j.Clone(), true
}

// List returns matching jobs, oldest first.
func (m *Manager) List(f Filter) []models.Job {
	m.mu.Lock()
	matched := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		matched = append(matched, j)
	}
	slices.SortFunc(matched, func(a, b *models.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	out := make([]models.Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	m.mu.Unlock()

	return out
}

// Cancel fails a queued job. It reports false for unknown ids and for jobs
// that are not queued.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok || j.Status != config.JobStatusQueued {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	j.Status = config.JobStatusFailed
	j.Error = config.CancelledByUser
	j.CompletedAt = &now
	j.RetryAfter = nil
	m.persistLocked(context.Background(), j)
	ev := jobEvent(EventJobCancelled, j, now)
	m.mu.Unlock()

	m.logger.Info("job cancelled", "job_id", id, "job_type", j.Type)
	m.emit(ev)
	return true
}

// Cleanup drops terminal jobs that finished more than maxAge ago, from memory
// and from the store. It returns the number removed from memory.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration) int {
	m.mu.Lock()
	now := m.now()
	cutoff := now.Add(-maxAge)

	removed := 0
	for id, j := range m.jobs {
		if !j.Status.Terminal() || j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, id)
		delete(m.unsaved, id)
		removed++
	}

	var stored int64
	if m.store != nil {
		sctx, cancel := m.storeContext(ctx)
		n, err := m.store.DeleteOlderThan(sctx, config.TerminalJobStatuses, cutoff)
		cancel()
		if err != nil {
			m.logger.Error("failed to delete old jobs", "cutoff", cutoff, "error", err)
		}
		stored = n
	}
	m.mu.Unlock()

	if removed == 0 && stored == 0 {
		return 0
	}

	m.logger.Info("old jobs cleaned", "removed", removed, "deleted_from_store", stored, "max_age", maxAge)
	m.emit(Event{Type: EventJobsCleaned, At: now, Count: removed})
	return removed
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{Total: len(m.jobs), MaxConcurrent: m.maxConcurrent}
	for _, j := range m.jobs {
		switch j.Status {
		case config.JobStatusQueued:
			s.Queued++
		case config.JobStatusProcessing:
			s.Processing++
		case config.JobStatusCompleted:
			s.Completed++
		case config.JobStatusFailed:
			s.Failed++
		}
	}
	m.mu.Unlock()

	s.ActiveWorkers = m.runner.Active()
	return s
}

// Subscribe registers fn for every future event. The returned func removes it.
func (m *Manager) Subscribe(fn Observer) func() {
	return m.observers.add(fn)
}

func (m *Manager) emit(events ...Event) {
	fns := m.observers.snapshot()
	for _, ev := range events {
		for _, fn := range fns {
			m.notify(fn, ev)
		}
	}
}

func (m *Manager) notify(fn Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

func (m *Manager) addLocked(j *models.Job) {
	m.seq++
	j.Seq = m.seq
	m.jobs[j.ID] = j
}

func (m *Manager) persistLocked(ctx context.Context, j *models.Job) {
	if m.store == nil {
		return
	}

	sctx, cancel := m.storeContext(ctx)
	defer cancel()

	rec := j.Clone()
	if err := m.store.Upsert(sctx, &rec); err != nil {
		m.unsaved[j.ID] = struct{}{}
		m.logger.Error("failed to persist job",
			"job_id", j.ID,
			"job_type", j.Type,
			"status", j.Status,
			"error", err,
		)
		return
	}
	delete(m.unsaved, j.ID)
}

// flushUnsavedLocked rewrites jobs whose last write failed, oldest first.
func (m *Manager) flushUnsavedLocked(ctx context.Context) {
	if m.store == nil || len(m.unsaved) == 0 {
		return
	}

	pending := make([]*models.Job, 0, len(m.unsaved))
	for id := range m.unsaved {
		if j, ok := m.jobs[id]; ok {
			pending = append(pending, j)
		} else {
			delete(m.unsaved, id)
		}
	}
	slices.SortFunc(pending, func(a, b *models.Job) int { return cmp.Compare(a.Seq, b.Seq) })

	for _, j := range pending {
		m.persistLocked(ctx, j)
	}
}

func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), m.storeTimeout)
}

// trigger requests a scheduling pass without blocking.
func (m *Manager) trigger() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func newJobID(t config.JobType, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", t, now.UnixMilli(), suffix)
}
