package record

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnregisteredKind is returned when a kind has no descriptor in the registry.
var ErrUnregisteredKind = errors.New("unregistered entity kind")

// Registry is the table of entity kinds known to a deployment.
// It is built once at process start and then shared read-only.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[EntityKind]Descriptor
	order       []EntityKind
}

// NewRegistry creates a registry holding the given descriptors.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[EntityKind]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a descriptor. Registering the same kind twice is an error.
func (r *Registry) Register(d Descriptor) error {
	if d.Kind == "" {
		return errors.New("descriptor kind is required")
	}
	if d.Table == "" {
		return fmt.Errorf("descriptor %s: table is required", d.Kind)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("descriptor %s: at least one column is required", d.Kind)
	}
	if len(d.PrimaryKey) == 0 {
		return fmt.Errorf("descriptor %s: primary key is required", d.Kind)
	}
	for _, pk := range d.PrimaryKey {
		if !slices.Contains(d.Columns, pk) {
			return fmt.Errorf("descriptor %s: primary key column %q is not a column", d.Kind, pk)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Kind]; exists {
		return fmt.Errorf("entity kind %s already registered", d.Kind)
	}

	r.descriptors[d.Kind] = d
	r.order = append(r.order, d.Kind)

	return nil
}

// Lookup returns the descriptor registered for kind.
func (r *Registry) Lookup(kind EntityKind) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[kind]
	return d, ok
}

// Resolve checks that every kind is registered.
func (r *Registry) Resolve(kinds ...EntityKind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, k := range kinds {
		if _, ok := r.descriptors[k]; !ok {
			return fmt.Errorf("%w: %s", ErrUnregisteredKind, k)
		}
	}
	return nil
}

// Kinds returns all registered kinds in registration order.
func (r *Registry) Kinds() []EntityKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.descriptors[k])
	}
	return out
}
