package models

import (
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"gorm.io/datatypes"
)

type Job struct {
	ID          string           `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Type        config.JobType   `gorm:"type:varchar(64);not null;index" json:"type"`
	Status      config.JobStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Payload     datatypes.JSON   `json:"payload"`
	Priority    int              `gorm:"not null" json:"priority"`
	Attempts    int              `gorm:"not null" json:"attempts"`
	MaxAttempts int              `gorm:"not null" json:"max_attempts"`
	CreatedAt   time.Time        `gorm:"not null" json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `gorm:"index" json:"completed_at,omitempty"`
	Error       string           `gorm:"type:text" json:"error,omitempty"`
	Result      datatypes.JSON   `json:"result,omitempty"`

	// RetryAfter gates re-selection during backoff. Never persisted.
	RetryAfter *time.Time `gorm:"-" json:"retry_after,omitempty"`
	// Seq is the in-memory submission order, used when CreatedAt ties.
	Seq uint64 `gorm:"-" json:"-"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() Job {
	c := *j
	c.Payload = cloneBytes(j.Payload)
	c.Result = cloneBytes(j.Result)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.RetryAfter = cloneTime(j.RetryAfter)
	return c
}

func cloneBytes(b datatypes.JSON) datatypes.JSON {
	if b == nil {
		return nil
	}
	return append(datatypes.JSON(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
