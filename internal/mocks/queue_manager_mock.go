package mocks

import (
	"context"

	"github.com/joshu-sajeev/docqueue/internal/dto"
	"github.com/joshu-sajeev/docqueue/internal/models"
	"github.com/joshu-sajeev/docqueue/internal/queue"
	"github.com/stretchr/testify/mock"
)

type QueueManagerMock struct {
	mock.Mock
}

func (m *QueueManagerMock) Submit(ctx context.Context, payload dto.Payload, opts queue.SubmitOptions) string {
	args := m.Called(ctx, payload, opts)
	return args.String(0)
}

func (m *QueueManagerMock) Get(id string) (models.Job, bool) {
	args := m.Called(id)
	return args.Get(0).(models.Job), args.Bool(1)
}

func (m *QueueManagerMock) List(filter queue.Filter) []models.Job {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]models.Job)
}

func (m *QueueManagerMock) Cancel(id string) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *QueueManagerMock) Stats() queue.Stats {
	args := m.Called()
	return args.Get(0).(queue.Stats)
}
