package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chicogong/affect/pkg/schemas"
)

// Registry stores registered backends. Selection walks backends in
// registration order so the first capable backend wins.
type Registry struct {
	backends map[string]Backend
	order    []string
	mu       sync.RWMutex
}

// NewRegistry creates a registry holding bs
func NewRegistry(bs ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend)}
	for _, b := range bs {
		r.Register(b)
	}
	return r
}

// globalRegistry is the process-wide backend registry
var globalRegistry = NewRegistry()

// GlobalRegistry returns the process-wide backend registry
func GlobalRegistry() *Registry {
	return globalRegistry
}

// Register registers a backend globally
func Register(b Backend) {
	globalRegistry.Register(b)
}

// Register adds b. Registering a name again replaces the earlier backend
// but keeps its position.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := b.Name()
	if _, ok := r.backends[name]; !ok {
		r.order = append(r.order, name)
	}
	r.backends[name] = b
}

// Get retrieves a backend by name
func (r *Registry) Get(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("backend '%s' not found", name)
	}
	return b, nil
}

// List returns the registered backends in registration order
func (r *Registry) List() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// Names returns the sorted backend names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Select returns the first backend supporting input as media type mt
func (r *Registry) Select(input string, mt schemas.MediaType) (Backend, error) {
	for _, b := range r.List() {
		if Supports(b, input, mt) {
			return b, nil
		}
	}
	return nil, &NoBackendError{MediaType: schemas.ResolveMediaType(mt, input), Input: input}
}
