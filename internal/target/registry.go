package target

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned for unknown target IDs.
var ErrNotFound = errors.New("target not found")

// Registry manages the collection of loaded targets. Targets are never
// mutated; a reload swaps the whole set.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]*Target
}

// NewRegistry creates a new target registry
func NewRegistry(targets map[string]*Target) *Registry {
	if targets == nil {
		targets = make(map[string]*Target)
	}
	return &Registry{
		targets: targets,
	}
}

// Get retrieves a target by ID
func (r *Registry) Get(id string) (*Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.targets[id]
	if !exists {
		return nil, fmt.Errorf("target '%s': %w", id, ErrNotFound)
	}

	return t, nil
}

// List returns all target IDs in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.targets))
	for id := range r.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Count returns the number of targets
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.targets)
}

// Replace swaps in a freshly loaded set of targets. Runs already holding a
// *Target keep using it.
func (r *Registry) Replace(targets map[string]*Target) {
	if targets == nil {
		targets = make(map[string]*Target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.targets = targets
}
