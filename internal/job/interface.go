package job

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
)

// QueueManager is the part of queue.Manager the HTTP layer relies on.
type QueueManager interface {
	Submit(ctx context.Context, payload dto.Payload, opts queue.SubmitOptions) string
	Get(id string) (models.Job, bool)
	List(filter queue.Filter) []models.Job
	Cancel(id string) bool
	Stats() queue.Stats
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	CreateJob(ctx context.Context, dto *dto.JobCreateDTO) (*dto.JobCreatedDTO, error)
	GetJob(ctx context.Context, id string) (*dto.JobResponseDTO, error)
	ListJobs(ctx context.Context, filter *dto.JobFilterDTO) ([]dto.JobResponseDTO, error)
	CancelJob(ctx context.Context, id string) error
	Stats(ctx context.Context) (*dto.StatsDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Create(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Cancel(c *gin.Context)
	Stats(c *gin.Context)
}
