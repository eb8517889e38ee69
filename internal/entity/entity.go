// Package entity defines the vendor-neutral representation of polled
// device state.
//
// An Entity is a named, typed node. Top-level entities (a bridge domain, a
// VLAN, an interface) own ordered children (the interfaces and service
// instances attached to it). Trees are built fresh on every poll and are
// discarded once reconciliation has produced its results.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xtxerr/invsync/internal/errors"
)

// DataType classifies an entity node.
type DataType int

const (
	// DataTypeObject is a structured object with attributes and children.
	DataTypeObject DataType = iota

	// DataTypeScalar is a leaf carrying a single value.
	DataTypeScalar

	// DataTypeReference points at another inventory object by name.
	DataTypeReference

	// DataTypeUnknown marks output the parser could not classify.
	DataTypeUnknown
)

// String returns the config/wire spelling of the data type.
func (d DataType) String() string {
	switch d {
	case DataTypeObject:
		return "object"
	case DataTypeScalar:
		return "scalar"
	case DataTypeReference:
		return "reference"
	case DataTypeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Valid reports whether d is one of the declared data types.
func (d DataType) Valid() bool {
	return d >= DataTypeObject && d <= DataTypeUnknown
}

// ClassUnknown is the class given to unclassified output.
const ClassUnknown = "Unknown"

// Entity is one node of a polled-state graph.
//
// Entity is not safe for concurrent mutation; a tree is owned by the poll
// that built it.
type Entity struct {
	Name       string
	Class      string
	DataType   DataType
	Attributes map[string]string

	// Source is the id of the data source the entity was polled from.
	Source string

	parent   *Entity
	children []*Entity
	index    map[string]int
}

// New creates a detached entity.
func New(class, name string, dt DataType) *Entity {
	return &Entity{
		Name:     name,
		Class:    class,
		DataType: dt,
	}
}

// NewUnknown creates an unknown entity named after the raw line.
func NewUnknown(line string) *Entity {
	return New(ClassUnknown, NormalizeName(line), DataTypeUnknown)
}

// Key returns the entity's identity key.
func (e *Entity) Key() string {
	return Key(e.Class, e.Name)
}

// Parent returns the owning entity, or nil for a root.
func (e *Entity) Parent() *Entity {
	return e.parent
}

// Children returns the ordered children. The slice is a copy; the
// entities are shared.
func (e *Entity) Children() []*Entity {
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// NumChildren returns the number of direct children.
func (e *Entity) NumChildren() int {
	return len(e.children)
}

// Child returns the direct child with the given identity key.
func (e *Entity) Child(key string) (*Entity, bool) {
	i, ok := e.index[key]
	if !ok {
		return nil, false
	}
	return e.children[i], true
}

// AddChild appends child, taking exclusive ownership of it.
//
// It fails if child already has an owner, if attaching it would create a
// cycle, or if a sibling with the same identity key exists.
func (e *Entity) AddChild(child *Entity) error {
	if child == nil {
		return errors.NewMissingField("child")
	}
	if child.parent != nil {
		return fmt.Errorf("%s: %w", child.Key(), errors.ErrAlreadyOwned)
	}
	for p := e; p != nil; p = p.parent {
		if p == child {
			return fmt.Errorf("%s: %w", child.Key(), errors.ErrCycle)
		}
	}

	key := child.Key()
	if _, dup := e.index[key]; dup {
		return fmt.Errorf("%s under %s: %w", key, e.Key(), errors.ErrDuplicateChild)
	}

	if e.index == nil {
		e.index = make(map[string]int)
	}
	e.index[key] = len(e.children)
	e.children = append(e.children, child)
	child.parent = e
	return nil
}

// SetAttr sets an attribute, allocating the map on first use.
func (e *Entity) SetAttr(name, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[name] = value
}

// Attr returns an attribute value.
func (e *Entity) Attr(name string) (string, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// SetSource tags e and all of its descendants with a data source id.
func (e *Entity) SetSource(source string) {
	e.Walk(func(n *Entity, _ int) bool {
		n.Source = source
		return true
	})
}

// Walk visits e and its descendants depth-first in child order. fn
// receives the depth (0 for e) and returns false to skip a subtree.
func (e *Entity) Walk(fn func(n *Entity, depth int) bool) {
	e.walk(fn, 0)
}

func (e *Entity) walk(fn func(*Entity, int) bool, depth int) {
	if !fn(e, depth) {
		return
	}
	for _, c := range e.children {
		c.walk(fn, depth+1)
	}
}

// MemberKeys returns the sorted identity keys of the direct children.
func (e *Entity) MemberKeys() []string {
	keys := make([]string, 0, len(e.children))
	for _, c := range e.children {
		keys = append(keys, c.Key())
	}
	sort.Strings(keys)
	return keys
}

// String renders a one-line summary.
func (e *Entity) String() string {
	return fmt.Sprintf("%s %q (%s, %d children)", e.Class, e.Name, e.DataType, len(e.children))
}

// =============================================================================
// Identity
// =============================================================================

// NormalizeName lower-cases s and collapses runs of whitespace to a single
// space. The parser and the reconciliation engine both key entities through
// this function, so the two never disagree on identity.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Key returns the identity key for a class/name pair.
func Key(class, name string) string {
	return strings.ToLower(strings.TrimSpace(class)) + "/" + NormalizeName(name)
}

// Count returns the number of nodes in the given forest.
func Count(roots []*Entity) int {
	n := 0
	for _, r := range roots {
		r.Walk(func(*Entity, int) bool {
			n++
			return true
		})
	}
	return n
}
