package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
)

var errTerminated = errors.New("terminated")

// GoroutineRunner runs handlers in-process on their own goroutine. A panic is
// reported as a CrashError. A handler that ignores its context keeps running
// after a timeout, so this is weaker than ProcessRunner.
type GoroutineRunner struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	active map[*goroutineRun]string
}

type goroutineRun struct {
	s      *settler
	cancel context.CancelFunc
}

var _ Runner = (*GoroutineRunner)(nil)

func NewGoroutineRunner(registry *Registry, timeout time.Duration, logger *slog.Logger) *GoroutineRunner {
	if timeout <= 0 {
		timeout = config.DefaultJobTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GoroutineRunner{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		active:   make(map[*goroutineRun]string),
	}
}

func (r *GoroutineRunner) Run(ctx context.Context, req Request) (json.RawMessage, error) {
	runCtx, cancel := context.WithCancel(ctx)
	run := &goroutineRun{s: newSettler(), cancel: cancel}
	r.track(run, req.ID)

	timer := time.AfterFunc(r.timeout, func() {
		if run.s.settle(outcome{err: &TimeoutError{Timeout: r.timeout}}) {
			r.logger.Warn("job timed out", "job_id", req.ID, "timeout", r.timeout)
			cancel()
		}
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		run.s.settle(outcome{err: &CrashError{Err: ctx.Err()}})
	})
	defer stop()

	go func() {
		defer r.untrack(run)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				run.s.settle(outcome{err: &CrashError{Err: fmt.Errorf("panic: %v", rec)}})
			}
		}()

		res, err := r.registry.Execute(runCtx, req.Type, req.Payload)
		if err != nil {
			run.s.settle(outcome{err: &HandlerError{Message: err.Error()}})
			return
		}
		run.s.settle(outcome{result: res})
	}()

	o := run.s.wait()
	return o.result, o.err
}

func (r *GoroutineRunner) KillAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for run, id := range r.active {
		r.logger.Warn("terminating job goroutine", "job_id", id)
		run.s.settle(outcome{err: &CrashError{Err: errTerminated}})
		run.cancel()
	}
}

func (r *GoroutineRunner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *GoroutineRunner) track(run *goroutineRun, id string) {
	r.mu.Lock()
	r.active[run] = id
	r.mu.Unlock()
}

func (r *GoroutineRunner) untrack(run *goroutineRun) {
	r.mu.Lock()
	delete(r.active, run)
	r.mu.Unlock()
}
