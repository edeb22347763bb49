package capability

import (
	"context"
	"sync"

	"github.com/aretw0/espalier/pkg/schema"
)

// Handler executes a single capability. It receives the step's opaque
// parameters and the run-level cancellation context, and returns a result
// value or fails with an *Error carrying a machine-readable reason.
type Handler interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Execute calls fn(ctx, params).
func (fn HandlerFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return fn(ctx, params)
}

// DryRunner is an optional Handler extension. When implemented, the engine
// invokes DryRun during the validating phase; a dry run must not produce
// side effects.
type DryRunner interface {
	DryRun(ctx context.Context, params map[string]any) error
}

// ParamValidator is an optional Handler extension declaring the expected
// parameter shape. The engine validates step params against it before
// execution starts.
type ParamValidator interface {
	ParamSchema() schema.Schema
}

// Registry is a concurrency-safe lookup of handlers keyed by (skill, action).
// Registering the same pair twice overwrites the previous handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

type key struct {
	skill  string
	action string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[key]Handler),
	}
}

// Register binds a handler to a (skill, action) pair.
func (r *Registry) Register(skill, action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key{skill, action}] = h
}

// RegisterFunc binds a plain function to a (skill, action) pair.
func (r *Registry) RegisterFunc(skill, action string, fn HandlerFunc) {
	r.Register(skill, action, fn)
}

// Resolve looks up the handler for a (skill, action) pair.
// Returns *UnknownCapabilityError if no handler is registered.
func (r *Registry) Resolve(skill, action string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[key{skill, action}]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownCapabilityError{Skill: skill, Action: action}
	}
	return h, nil
}

// Capabilities returns every registered (skill, action) pair. Order is
// unspecified.
func (r *Registry) Capabilities() [][2]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([][2]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, [2]string{k.skill, k.action})
	}
	return out
}
