package crm

import (
	"fmt"
	"sync"
)

// Registry holds the known CRM adapters keyed by provider name. Integrations
// reference providers by name; the engine resolves the adapter per message.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter; registering the same name twice panics because it
// is always a wiring bug.
func (r *Registry) Register(adapter Adapter) {
	if adapter == nil {
		panic("crm: adapter cannot be nil")
	}
	name := adapter.Name()
	if name == "" {
		panic("crm: adapter name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		panic(fmt.Sprintf("crm: adapter %q registered twice", name))
	}
	r.adapters[name] = adapter
}

// Get resolves an adapter by provider name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("crm: no adapter registered for provider %q", name)
	}
	return adapter, nil
}

// Names lists registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
