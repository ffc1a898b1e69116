package queue

import "sync"

// TaskHandler executes the payload of one or more task-type names and
// produces a serialized result or an error.
type TaskHandler interface {
	CanHandle(name string) bool
	Handle(data string) (string, error)
}

// HandlerRegistry maps task-type names to handlers. Lookup is exact-match
// first, then a linear scan of CanHandle predicates (for wildcard
// handlers) — first match wins. Grounded on
// original_source/src/worker.rs's TaskHandlerRegistry.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
	order    []string
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]TaskHandler)}
}

// Register adds a handler under name. Registration is additive; eviction is
// out of scope (spec.md §4.2).
func (r *HandlerRegistry) Register(name string, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = handler
}

// Find resolves a handler for taskName: exact match by name, else the first
// registered handler whose CanHandle(taskName) returns true.
func (r *HandlerRegistry) Find(taskName string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[taskName]; ok {
		return h, true
	}
	for _, name := range r.order {
		h := r.handlers[name]
		if h.CanHandle(taskName) {
			return h, true
		}
	}
	return nil, false
}

// Names returns the registered handler keys, in registration order.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
