// Package retry decides what happens to a job after a failed attempt.
package retry

import (
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	goretry "github.com/sethvargo/go-retry"
)

// Policy is an exponential backoff capped at Cap. The zero value uses the
// package defaults.
type Policy struct {
	Base time.Duration
	Cap  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Base: config.DefaultRetryBase, Cap: config.DefaultRetryCap}
}

// Decision is the outcome of a failed attempt.
type Decision struct {
	Retry   bool
	Delay   time.Duration
	RetryAt time.Time
}

// Backoff returns the delay imposed after the given number of attempts:
// Base * 2^(attempts-1), never more than Cap.
func (p Policy) Backoff(attempts int) time.Duration {
	p = p.normalized()
	if attempts < 1 {
		attempts = 1
	}

	b := goretry.WithCappedDuration(p.Cap, goretry.NewExponential(p.Base))

	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay, _ = b.Next()
		if delay >= p.Cap {
			return p.Cap
		}
	}
	return delay
}

// Decide is only meaningful for an attempt that just failed.
func (p Policy) Decide(attempts, maxAttempts int, now time.Time) Decision {
	if attempts >= maxAttempts {
		return Decision{}
	}

	delay := p.Backoff(attempts)
	return Decision{
		Retry:   true,
		Delay:   delay,
		RetryAt: now.Add(delay),
	}
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = config.DefaultRetryBase
	}
	if p.Cap <= 0 {
		p.Cap = config.DefaultRetryCap
	}
	if p.Cap < p.Base {
		p.Cap = p.Base
	}
	return p
}
