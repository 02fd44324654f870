package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/stretchr/testify/mock"
)

type JobStoreMock struct {
	mock.Mock
}

func (m *JobStoreMock) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *JobStoreMock) Upsert(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *JobStoreMock) LoadPending(ctx context.Context) ([]models.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *JobStoreMock) DeleteOlderThan(ctx context.Context, statuses []config.JobStatus, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, statuses, cutoff)
	return args.Get(0).(int64), args.Error(1)
}
