package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/scriptengine/internal/event"
	"github.com/roach88/scriptengine/internal/world"
)

// Func is a host function callable from script code. A returned error is
// either a signal (see Classify) or a fault.
type Func func(ctx context.Context, args []event.Value) (event.Value, error)

// Api is a named set of host functions bound to one script.
type Api interface {
	// Initialize binds the API to the engine, the part, and the script item.
	Initialize(engine Engine, part world.Part, item Item) error

	// Functions returns the callable surface, keyed by function name.
	Functions() map[string]Func
}

// Factory creates a fresh, uninitialized Api.
type Factory func() Api

// Registry is the ordered set of APIs every script instance is given.
//
// Thread-safety: safe for concurrent use. Registration usually happens at
// startup.
type Registry struct {
	mu        sync.RWMutex
	names     []string
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds an API factory. Names must be unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("api name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("api %q: nil factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("api %q already registered", name)
	}
	r.names = append(r.names, name)
	r.factories[name] = factory
	return nil
}

// MustRegister is like Register but panics on error.
// Use only for static registration at startup.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names returns API names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Create instantiates the named API.
func (r *Registry) Create(name string) (Api, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("api %q not registered", name)
	}
	return factory(), nil
}
