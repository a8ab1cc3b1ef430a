package worker

import (
	"context"
	"fmt"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
)

// Handler executes one job. Implementations return classified errors
// (model.Transient / model.Permanent / model.RateLimited) where they can
// tell; plain errors are treated as transient.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *model.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) error { return f(ctx, job) }

// Registry maps job kinds to handlers. Kinds must be registered before
// the runner starts; a claimed job with no handler fails permanently
// rather than silently requeueing forever.
type Registry struct {
	handlers map[model.JobKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobKind]Handler)}
}

func (r *Registry) Register(kind model.JobKind, h Handler) error {
	if !kind.Valid() {
		return domain.ErrUnknownKind
	}
	if _, dup := r.handlers[kind]; dup {
		return fmt.Errorf("handler for %s: %w", kind, domain.ErrAlreadyExists)
	}
	r.handlers[kind] = h
	return nil
}

func (r *Registry) Lookup(kind model.JobKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}
