package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobRepository is the gorm-backed job store. It works against any gorm
// dialect; the sqlite package reuses it.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ queue.Store = (*JobRepository)(nil)

// EnsureSchema creates or updates the jobs table from the model. Postgres
// deployments normally run the goose migrations first, in which case this
// is a no-op.
func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&models.Job{}); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert writes the full record, inserting it on first sight and overwriting
// every column afterwards.
func (r *JobRepository) Upsert(ctx context.Context, job *models.Job) error {
	rec := *job
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.StartedAt = utc(rec.StartedAt)
	rec.CompletedAt = utc(rec.CompletedAt)
	rec.Payload = orNull(rec.Payload)
	rec.Result = orNull(rec.Result)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error; err != nil {
		return fmt.Errorf("upsert job %s: %w", job.ID, err)
	}
	return nil
}

// LoadPending returns every job still queued or processing, oldest first.
func (r *JobRepository) LoadPending(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []config.JobStatus{config.JobStatusQueued, config.JobStatusProcessing}).
		Order("created_at").
		Order("id").
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("load pending jobs: %w", err)
	}
	for i := range jobs {
		stripNull(&jobs[i])
	}
	return jobs, nil
}

// DeleteOlderThan removes jobs in one of statuses that completed before cutoff.
func (r *JobRepository) DeleteOlderThan(ctx context.Context, statuses []config.JobStatus, cutoff time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at IS NOT NULL AND completed_at < ?", statuses, cutoff.UTC()).
		Delete(&models.Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Get is used by tooling and tests; the scheduler reads from memory.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	stripNull(&job)
	return &job, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// JSON columns are never written as SQL NULL; datatypes.JSON cannot scan it.
func orNull(b datatypes.JSON) datatypes.JSON {
	if len(b) == 0 {
		return datatypes.JSON("null")
	}
	return b
}

func stripNull(j *models.Job) {
	if string(j.Payload) == "null" {
		j.Payload = nil
	}
	if string(j.Result) == "null" {
		j.Result = nil
	}
}
