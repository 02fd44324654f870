package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/joshu-sajeev/docqueue/internal/retry"
	"github.com/joshu-sajeev/docqueue/internal/worker"
	"github.com/stretchr/testify/require"
)

var errKilled = errors.New("killed")

// memStore keeps the latest write per job and every status it was written with.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]models.Job
	history map[string][]config.JobStatus
	deletes []time.Time
}

func newMemStore(seed ...models.Job) *memStore {
	s := &memStore{
		jobs:    make(map[string]models.Job),
		history: make(map[string][]config.JobStatus),
	}
	for _, j := range seed {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *memStore) Upsert(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	s.history[job.ID] = append(s.history[job.ID], job.Status)
	return nil
}

func (s *memStore) LoadPending(ctx context.Context) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Job
	for _, j := range s.jobs {
		if j.Status == config.JobStatusQueued || j.Status == config.JobStatusProcessing {
			out = append(out, j.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (s *memStore) DeleteOlderThan(ctx context.Context, statuses []config.JobStatus, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, cutoff)
	var n int64
	for id, j := range s.jobs {
		if slices.Contains(statuses, j.Status) && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id string) (models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *memStore) statuses(id string) []config.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[id])
}

// stubRunner runs fn in-process and lets KillAll release blocked jobs.
type stubRunner struct {
	fn func(ctx context.Context, req worker.Request, killed <-chan struct{}) (json.RawMessage, error)

	mu        sync.Mutex
	calls     []worker.Request
	active    int
	maxActive int
	killed    chan struct{}
	killOnce  sync.Once
	killCalls atomic.Int32
}

func newStubRunner(fn func(ctx context.Context, req worker.Request, killed <-chan struct{}) (json.RawMessage, error)) *stubRunner {
	return &stubRunner{fn: fn, killed: make(chan struct{})}
}

func succeed() *stubRunner {
	return newStubRunner(func(ctx context.Context, req worker.Request, _ <-chan struct{}) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
}

func failWith(msg string) *stubRunner {
	return newStubRunner(func(ctx context.Context, req worker.Request, _ <-chan struct{}) (json.RawMessage, error) {
		return nil, &worker.HandlerError{Message: msg}
	})
}

// blockUntilKilled never finishes on its own.
func blockUntilKilled() *stubRunner {
	return newStubRunner(func(ctx context.Context, req worker.Request, killed <-chan struct{}) (json.RawMessage, error) {
		<-killed
		return nil, &worker.CrashError{Err: errKilled}
	})
}

func (r *stubRunner) Run(ctx context.Context, req worker.Request) (json.RawMessage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.active++
	r.maxActive = max(r.maxActive, r.active)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()

	return r.fn(ctx, req, r.killed)
}

func (r *stubRunner) KillAll() {
	r.killCalls.Add(1)
	r.killOnce.Do(func() { close(r.killed) })
}

func (r *stubRunner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *stubRunner) callIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.calls))
	for i, c := range r.calls {
		ids[i] = c.ID
	}
	return ids
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *recorder) observe(ev queue.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types(jobID string) []queue.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []queue.EventType
	for _, ev := range r.events {
		if ev.Job != nil && ev.Job.ID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *recorder) all() []queue.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(store queue.Store, runner worker.Runner) queue.Options {
	return queue.Options{
		Store:           store,
		Runner:          runner,
		Policy:          retry.Policy{Base: 10 * time.Millisecond, Cap: 40 * time.Millisecond},
		Logger:          discardLogger(),
		MaxConcurrent:   1,
		TickInterval:    10 * time.Millisecond,
		CleanupInterval: time.Hour,
		CleanupMaxAge:   24 * time.Hour,
		ShutdownTimeout: 200 * time.Millisecond,
		ShutdownPoll:    10 * time.Millisecond,
	}
}

// newManager builds a manager and shuts it down when the test ends.
func newManager(t *testing.T, opts queue.Options) *queue.Manager {
	t.Helper()
	m, err := queue.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func summary(doc string) dto.GenerateSummaryPayload {
	return dto.GenerateSummaryPayload{DocumentID: doc, Content: "Hello. World."}
}

func waitStatus(t *testing.T, m *queue.Manager, id string, want config.JobStatus) models.Job {
	t.Helper()
	var j models.Job
	require.Eventually(t, func() bool {
		var ok bool
		j, ok = m.Get(id)
		return ok && j.Status == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return j
}
