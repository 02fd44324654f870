package queue

import (
	"sync"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/models"
)

type EventType string

const (
	EventJobAdded     EventType = "job-added"
	EventJobStarted   EventType = "job-started"
	EventJobCompleted EventType = "job-completed"
	EventJobRetrying  EventType = "job-retrying"
	EventJobFailed    EventType = "job-failed"
	EventJobCancelled EventType = "job-cancelled"
	EventJobRequeued  EventType = "job-requeued"
	EventJobsCleaned  EventType = "jobs-cleaned"
)

// Event is a snapshot of a job transition. Job is a copy; observers may keep it.
type Event struct {
	Type EventType   `json:"event"`
	Job  *models.Job `json:"job,omitempty"`
	At   time.Time   `json:"at"`
	// Duration is set on completed, retrying and failed events.
	Duration time.Duration `json:"duration,omitempty"`
	// Count is set on jobs-cleaned.
	Count int `json:"count,omitempty"`
}

// Observer receives events outside the manager lock. It must not block for long.
type Observer func(Event)

type observers struct {
	mu   sync.RWMutex
	next uint64
	fns  map[uint64]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[uint64]Observer)
	}
	id := o.next
	o.next++
	o.fns[id] = fn

	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()

	fns := make([]Observer, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	return fns
}

func jobEvent(t EventType, j *models.Job, at time.Time) Event {
	c := j.Clone()
	return Event{Type: t, Job: &c, At: at}
}
