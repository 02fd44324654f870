package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
)

// ProcessOptions configures a ProcessRunner.
type ProcessOptions struct {
	// Path and Args start the child; the child must call Serve.
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
	Logger  *slog.Logger
}

// ProcessRunner spawns a fresh OS process per job and exchanges one JSON
// request and one JSON response over the child's stdin and stdout.
type ProcessRunner struct {
	path    string
	args    []string
	env     []string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	active map[*exec.Cmd]string
}

var _ Runner = (*ProcessRunner)(nil)

func NewProcessRunner(opts ProcessOptions) *ProcessRunner {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.DefaultJobTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ProcessRunner{
		path:    opts.Path,
		args:    opts.Args,
		env:     opts.Env,
		timeout: timeout,
		logger:  logger,
		active:  make(map[*exec.Cmd]string),
	}
}

func (r *ProcessRunner) Run(ctx context.Context, req Request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &CrashError{Err: fmt.Errorf("encode request: %w", err)}
	}

	l := r.logger.With("job_id", req.ID, "job_type", req.Type)

	cmd := exec.Command(r.path, r.args...)
	cmd.Env = r.env
	cmd.Stdin = bytes.NewReader(append(body, '\n'))
	cmd.Stderr = &stderrLogger{logger: l}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &CrashError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, &CrashError{Err: fmt.Errorf("spawn worker: %w", err)}
	}
	r.track(cmd, req.ID)
	l.Debug("worker process started", "pid", cmd.Process.Pid)

	s := newSettler()

	timer := time.AfterFunc(r.timeout, func() {
		if s.settle(outcome{err: &TimeoutError{Timeout: r.timeout}}) {
			l.Warn("job timed out, killing worker process", "timeout", r.timeout)
			_ = cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		if s.settle(outcome{err: &CrashError{Err: ctx.Err()}}) {
			_ = cmd.Process.Kill()
		}
	})
	defer stop()

	go func() {
		defer r.untrack(cmd)

		var resp Response
		decErr := json.NewDecoder(stdout).Decode(&resp)
		if decErr == nil {
			s.settle(fromResponse(resp))
		}
		_, _ = io.Copy(io.Discard, stdout)

		waitErr := cmd.Wait()
		if decErr != nil {
			if waitErr == nil {
				waitErr = fmt.Errorf("no result reported: %w", decErr)
			}
			if s.settle(outcome{err: &CrashError{Err: waitErr}}) {
				l.Warn("worker process exited without a result", "error", waitErr)
			}
		}
	}()

	o := s.wait()
	return o.result, o.err
}

func (r *ProcessRunner) KillAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cmd, id := range r.active {
		r.logger.Warn("killing worker process", "job_id", id, "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	}
}

func (r *ProcessRunner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *ProcessRunner) track(cmd *exec.Cmd, id string) {
	r.mu.Lock()
	r.active[cmd] = id
	r.mu.Unlock()
}

func (r *ProcessRunner) untrack(cmd *exec.Cmd) {
	r.mu.Lock()
	delete(r.active, cmd)
	r.mu.Unlock()
}

type stderrLogger struct {
	logger *slog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Info("worker output", "line", line)
		}
	}
	return len(p), nil
}
