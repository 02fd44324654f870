package config

import (
	"slices"
	"time"
)

type JobStatus string

type JobType string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

const (
	JobTypeIndexDocument         JobType = "index-document"
	JobTypeDeleteDocumentVectors JobType = "delete-document-vectors"
	JobTypeGenerateSummary       JobType = "generate-summary"
)

var (
	AllowedJobTypes = []JobType{
		JobTypeIndexDocument,
		JobTypeDeleteDocumentVectors,
		JobTypeGenerateSummary,
	}
	AllowedJobStatuses = []JobStatus{
		JobStatusQueued,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
	}
	TerminalJobStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed}
)

const (
	DefaultMaxAttempts   = 3
	DefaultMaxConcurrent = 1
	DefaultTickInterval  = time.Second
	DefaultJobTimeout    = 5 * time.Minute
	DefaultRetryBase     = time.Second
	DefaultRetryCap      = 30 * time.Second

	CancelledByUser     = "Cancelled by user"
	InterruptedFinalTry = "Interrupted during final attempt"
)

// Terminal reports whether no further transitions can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	return slices.Contains(AllowedJobStatuses, s)
}

func (t JobType) Valid() bool {
	return slices.Contains(AllowedJobTypes, t)
}
