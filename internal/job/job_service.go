package job

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/joshu-sajeev/docqueue/common"
	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
)

type JobService struct {
	queue QueueManager
}

func NewJobService(q QueueManager) *JobService {
	return &JobService{queue: q}
}

var _ JobServiceInterface = (*JobService)(nil)

// CreateJob validates the request and its typed payload, then hands the job
// to the queue. Validation failures come back as 400 API errors.
func (s *JobService) CreateJob(ctx context.Context, req *dto.JobCreateDTO) (*dto.JobCreatedDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if !json.Valid(req.Payload) {
		return nil, common.Errf(http.StatusBadRequest, "payload must be valid JSON")
	}

	payload, err := decodePayload(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}

	id := s.queue.Submit(ctx, payload, queue.SubmitOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
	})

	return &dto.JobCreatedDTO{ID: id}, nil
}

// GetJob returns a single job or a 404 API error.
func (s *JobService) GetJob(ctx context.Context, id string) (*dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, ok := s.queue.Get(id)
	if !ok {
		return nil, common.Errf(http.StatusNotFound, "job not found")
	}

	resp := toResponseDTO(job)
	return &resp, nil
}

// ListJobs returns jobs matching the optional status and type filters,
// oldest first.
func (s *JobService) ListJobs(ctx context.Context, filter *dto.JobFilterDTO) ([]dto.JobResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid status",
			map[string]any{
				"provided": filter.Status,
				"allowed":  config.AllowedJobStatuses,
			},
		)
	}

	if filter.Type != "" && !filter.Type.Valid() {
		return nil, common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type",
			map[string]any{
				"provided": filter.Type,
				"allowed":  config.AllowedJobTypes,
			},
		)
	}

	jobs := s.queue.List(queue.Filter{Status: filter.Status, Type: filter.Type})

	dtos := make([]dto.JobResponseDTO, len(jobs))
	for i, job := range jobs {
		dtos[i] = toResponseDTO(job)
	}
	return dtos, nil
}

// CancelJob cancels a queued job. Unknown jobs are a 404, jobs past the
// queued state a 409.
func (s *JobService) CancelJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	job, ok := s.queue.Get(id)
	if !ok {
		return common.Errf(http.StatusNotFound, "job not found")
	}

	if !s.queue.Cancel(id) {
		return common.NewAPIError(
			http.StatusConflict,
			"job cannot be cancelled",
			map[string]any{"status": job.Status},
		)
	}

	return nil
}

func (s *JobService) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	st := s.queue.Stats()
	return &dto.StatsDTO{
		Total:         st.Total,
		Queued:        st.Queued,
		Processing:    st.Processing,
		Completed:     st.Completed,
		Failed:        st.Failed,
		ActiveWorkers: st.ActiveWorkers,
		MaxConcurrent: st.MaxConcurrent,
	}, nil
}

func toResponseDTO(job models.Job) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		ID:          job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Payload:     json.RawMessage(job.Payload),
		Priority:    job.Priority,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Result:      json.RawMessage(job.Result),
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryAfter:  job.RetryAfter,
	}
}
