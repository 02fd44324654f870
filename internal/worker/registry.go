package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joshu-sajeev/docqueue/internal/config"
	"github.com/joshu-sajeev/docqueue/internal/dto"
)

// HandlerFunc runs a job from its serialized payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Registry maps job types to handlers.
type Registry struct {
	handlers map[config.JobType]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[config.JobType]HandlerFunc)}
}

// Register binds a typed handler to the job type of its payload.
func Register[P dto.Payload](r *Registry, h func(ctx context.Context, payload P) (any, error)) {
	var zero P
	r.handlers[zero.JobType()] = func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", zero.JobType(), err)
		}
		return h(ctx, p)
	}
}

func (r *Registry) Has(t config.JobType) bool {
	_, ok := r.handlers[t]
	return ok
}

// Execute runs the handler for t and serializes its result.
func (r *Registry) Execute(ctx context.Context, t config.JobType, payload json.RawMessage) (json.RawMessage, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", t)
	}

	res, err := h(ctx, payload)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", t, err)
	}
	return b, nil
}

// DefaultRegistry holds the built-in document handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	Register(r, IndexDocumentHandler)
	Register(r, DeleteDocumentVectorsHandler)
	Register(r, GenerateSummaryHandler)
	return r
}
