package dto

import (
	"encoding/json"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
)

type JobCreateDTO struct {
	Type        config.JobType  `json:"type" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
	Priority    int             `json:"priority" validate:"gte=-100,lte=100"`
	MaxAttempts int             `json:"max_attempts" validate:"gte=0,lte=20"`
}

type JobCreatedDTO struct {
	ID string `json:"id"`
}

type JobFilterDTO struct {
	Status config.JobStatus `form:"status"`
	Type   config.JobType   `form:"type"`
}

type JobResponseDTO struct {
	ID          string           `json:"id"`
	Type        config.JobType   `json:"type"`
	Status      config.JobStatus `json:"status"`
	Payload     json.RawMessage  `json:"payload"`
	Priority    int              `json:"priority"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	RetryAfter  *time.Time       `json:"retry_after,omitempty"`
}

type StatsDTO struct {
	Total         int `json:"total"`
	Queued        int `json:"queued"`
	Processing    int `json:"processing"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`
	ActiveWorkers int `json:"active_workers"`
	MaxConcurrent int `json:"max_concurrent"`
}
