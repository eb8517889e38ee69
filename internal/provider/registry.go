package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

// Factory creates a provider instance for one run.
type Factory func(opts Options) Provider

// Descriptor registers one provider id.
type Descriptor struct {
	ID      string
	Family  string
	Factory Factory
}

// Registry maps provider ids to descriptors. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]Descriptor)}
}

// Register adds a descriptor. Ids must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return errors.NewMissingField("provider id")
	}
	if d.Family == "" {
		return errors.NewMissingField("provider family")
	}
	if d.Factory == nil {
		return errors.NewMissingField("provider factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ids[d.ID]; exists {
		return errors.NewValidation("provider id", fmt.Sprintf("%q already registered", d.ID))
	}
	r.ids[d.ID] = d
	return nil
}

// MustRegister is Register for package initialization; it panics on error.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.ids[id]
	return d, ok
}

// Family implements group.FamilyResolver.
func (r *Registry) Family(id string) (string, bool) {
	d, ok := r.Lookup(id)
	return d.Family, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New creates a provider instance.
func (r *Registry) New(id string, opts Options) (Provider, error) {
	d, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, errors.ErrUnknownProvider)
	}
	return d.Factory(opts), nil
}

// Bind checks g's provider compatibility, creates its provider and binds
// it to the group.
func (r *Registry) Bind(g *group.Group, opts Options) (Provider, error) {
	if err := g.CheckCompatibility(r); err != nil {
		return nil, err
	}

	p, err := r.New(g.Provider, opts)
	if err != nil {
		return nil, err
	}
	if err := g.Bind(p); err != nil {
		return nil, err
	}
	return p, nil
}
