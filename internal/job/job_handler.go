package job

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/docqueue/common"
	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// RegisterRoutes mounts the job endpoints under /jobs.
func RegisterRoutes(r gin.IRouter, h JobHandlerInterface) {
	jobs := r.Group("/jobs")
	jobs.POST("", h.Create)
	jobs.GET("", h.List)
	jobs.GET("/stats", h.Stats)
	jobs.GET("/:id", h.Get)
	jobs.DELETE("/:id", h.Cancel)
}

// Create handles HTTP requests for creating a new job.
// It validates and binds the request body, delegates business logic
// to the JobService, and returns HTTP 201 with the new job id.
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	created, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Get handles HTTP requests to fetch a job by its ID.
func (h *JobHandler) Get(c *gin.Context) {
	resp, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles HTTP requests to retrieve jobs, optionally filtered by
// status and type query parameters.
func (h *JobHandler) List(c *gin.Context) {
	var filter dto.JobFilterDTO
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.Error(common.Errf(http.StatusBadRequest, "invalid query: %v", err))
		return
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), &filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

// Cancel handles HTTP requests to cancel a queued job and returns
// HTTP 204 on success.
func (h *JobHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelJob(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
