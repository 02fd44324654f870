// Package worker executes a single job's handler behind an isolation
// boundary and reports exactly one outcome per job.
package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/joshu-sajeev/docqueue/internal/config"
)

// Request is sent to the execution unit.
type Request struct {
	ID      string          `json:"id"`
	Type    config.JobType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the only message an execution unit sends back.
type Response struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Runner executes one job and returns its result, or a *HandlerError,
// *TimeoutError or *CrashError.
type Runner interface {
	Run(ctx context.Context, req Request) (json.RawMessage, error)
	// KillAll forcibly terminates every active execution unit.
	KillAll()
	// Active counts execution units that have not exited yet.
	Active() int
}

type outcome struct {
	result json.RawMessage
	err    error
}

// settler accepts the first outcome and drops the rest.
type settler struct {
	once sync.Once
	ch   chan outcome
}

func newSettler() *settler {
	return &settler{ch: make(chan outcome, 1)}
}

func (s *settler) settle(o outcome) bool {
	settled := false
	s.once.Do(func() {
		s.ch <- o
		settled = true
	})
	return settled
}

func (s *settler) wait() outcome {
	return <-s.ch
}

func fromResponse(resp Response) outcome {
	if resp.Success {
		return outcome{result: resp.Result}
	}
	return outcome{err: &HandlerError{Message: resp.Error}}
}
