package worker

import (
	"fmt"
	"time"
)

// HandlerError means the handler itself reported a failure.
type HandlerError struct {
	Message string
}

func (e *HandlerError) Error() string {
	return e.Message
}

// TimeoutError means the execution unit exceeded its wall-clock cap and was
// terminated.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job timed out after %s", e.Timeout)
}

// CrashError means the execution unit went away without a structured outcome.
type CrashError struct {
	Err error
}

func (e *CrashError) Error() string {
	if e.Err == nil {
		return "worker exited unexpectedly"
	}
	return fmt.Sprintf("worker exited unexpectedly: %v", e.Err)
}

func (e *CrashError) Unwrap() error {
	return e.Err
}
