package inventory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

// MemoryStore is an in-memory inventory. Children are returned in
// insertion order. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	children map[group.ObjectRef][]StoredObject
	nextID   int64
	reads    atomic.Int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{children: make(map[group.ObjectRef][]StoredObject)}
}

// GetChildren implements Store.
func (s *MemoryStore) GetChildren(ctx context.Context, scope group.ObjectRef) ([]StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(errors.Join(errors.ErrInventory, err), "children of %s", scope)
	}

	s.reads.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	objs := s.children[scope]
	out := make([]StoredObject, len(objs))
	for i, o := range objs {
		out[i] = o.Clone()
	}
	return out, nil
}

// Reads returns how many GetChildren calls reached the store.
func (s *MemoryStore) Reads() int64 {
	return s.reads.Load()
}

// Put appends objects under scope. Objects without an id get one assigned.
func (s *MemoryStore) Put(scope group.ObjectRef, objs ...StoredObject) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range objs {
		if o.ID == 0 {
			s.nextID++
			o.ID = s.nextID
		} else if o.ID > s.nextID {
			s.nextID = o.ID
		}
		s.children[scope] = append(s.children[scope], o.Clone())
	}
}

// Create adds a new child and returns its id.
func (s *MemoryStore) Create(scope group.ObjectRef, class, name string, attrs map[string]string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	o := StoredObject{ID: s.nextID, Class: class, Name: name, Attributes: attrs}
	s.children[scope] = append(s.children[scope], o.Clone())
	return o.ID
}

// Update merges attrs into the child with the given id.
func (s *MemoryStore) Update(scope group.ObjectRef, id int64, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs := s.children[scope]
	for i := range objs {
		if objs[i].ID != id {
			continue
		}
		if objs[i].Attributes == nil {
			objs[i].Attributes = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			objs[i].Attributes[k] = v
		}
		return nil
	}
	return fmt.Errorf("object %d under %s: %w", id, scope, errors.ErrInventory)
}

// Delete removes the child with the given id.
func (s *MemoryStore) Delete(scope group.ObjectRef, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	objs := s.children[scope]
	for i := range objs {
		if objs[i].ID == id {
			s.children[scope] = append(objs[:i:i], objs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("object %d under %s: %w", id, scope, errors.ErrInventory)
}

// =============================================================================
// Fixtures
// =============================================================================

// Fixture is the YAML layout of a seeded inventory:
//
//	scopes:
//	  - class: Router
//	    id: 1
//	    children:
//	      - {id: 10, class: VLAN, name: default, attributes: {status: active}}
//	      - {id: 11, class: VLAN, name: mgmt, protected: true}
type Fixture struct {
	Scopes []FixtureScope `yaml:"scopes"`
}

// FixtureScope seeds the children of one scope object.
type FixtureScope struct {
	Class    string         `yaml:"class"`
	ID       int64          `yaml:"id"`
	Children []StoredObject `yaml:"children"`
}

// LoadFixture reads a YAML fixture into a new MemoryStore.
func LoadFixture(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture parses YAML fixture data into a new MemoryStore.
func ParseFixture(data []byte) (*MemoryStore, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.Join(errors.ErrInvalidConfig, err), "parse inventory fixture")
	}

	var errs errors.ValidationErrors
	s := NewMemoryStore()
	for i, sc := range f.Scopes {
		if sc.Class == "" {
			errs.AddMissing(fmt.Sprintf("scopes[%d].class", i))
			continue
		}
		for j, c := range sc.Children {
			if c.Class == "" || c.Name == "" {
				errs.AddMissing(fmt.Sprintf("scopes[%d].children[%d].class/name", i, j))
			}
		}
		s.Put(group.ObjectRef{Class: sc.Class, ID: sc.ID}, sc.Children...)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
