package schedule

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/grove/errors"
)

// Handler is the body of a job. The returned string is stored as the
// execution's result summary. Handlers must honour ctx cancellation.
type Handler func(ctx context.Context, job *Job) (string, error)

// Registry maps job IDs to handlers.
//
// Example:
//
//	reg := schedule.NewRegistry()
//	reg.MustRegister("daily.rollup", rollup)
//	reg.Lookup("daily.rollup") -> rollup, true
//	reg.Lookup("daily.unknown") -> nil, false
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job ID. Registering an ID twice is an error.
func (r *Registry) Register(id string, h Handler) error {
	if id == "" {
		return errors.NewInvalidRequestError("handler id is empty")
	}
	if h == nil {
		return errors.NewInvalidRequestError("handler for %s is nil", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[id]; exists {
		return errors.Wrapf(ErrDuplicateHandler, "job %s", id)
	}
	r.handlers[id] = h
	return nil
}

// MustRegister is Register that panics on error, for static wiring.
func (r *Registry) MustRegister(id string, h Handler) {
	if err := r.Register(id, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for id.
func (r *Registry) Lookup(id string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	return h, ok
}

// Names returns the registered IDs in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
