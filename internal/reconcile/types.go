// Package reconcile diffs a polled entity graph against the persisted
// inventory and proposes mutations.
//
// The engine never writes to the inventory. For every polled top-level
// entity it emits exactly one result, and for every stored child of the
// scope that the poll did not report it emits one more:
//
//   - CREATE:    polled, not stored
//   - UPDATE:    polled and stored, tracked attributes differ
//   - NO_CHANGE: polled and stored, nothing differs (or stored and protected)
//   - DELETE:    stored, not polled, not protected
//   - ERROR:     the polled entity could not be compared
//
// Results are ordered CREATE, UPDATE, DELETE, NO_CHANGE, ERROR and, within a
// type, by polled order. The same input always produces the same output.
package reconcile

import (
	"sort"

	"github.com/xtxerr/invsync/internal/entity"
)

// =============================================================================
// Result Types
// =============================================================================

// Type is the kind of a proposed mutation.
type Type string

const (
	TypeCreate   Type = "CREATE"
	TypeUpdate   Type = "UPDATE"
	TypeDelete   Type = "DELETE"
	TypeNoChange Type = "NO_CHANGE"
	TypeError    Type = "ERROR"
)

// Types lists all result types in emission order.
var Types = []Type{TypeCreate, TypeUpdate, TypeDelete, TypeNoChange, TypeError}

// IsValid returns true if t is a known result type.
func (t Type) IsValid() bool {
	for _, valid := range Types {
		if t == valid {
			return true
		}
	}
	return false
}

// IsChange returns true for results that would modify the inventory.
func (t Type) IsChange() bool {
	return t == TypeCreate || t == TypeUpdate || t == TypeDelete
}

// =============================================================================
// Sync Result
// =============================================================================

// SyncResult is one proposed mutation.
type SyncResult struct {
	Type  Type   `json:"type"`
	Class string `json:"class"`

	// ObjectID is the stored object's id, zero for CREATE and for ERROR
	// results of entities that were never matched.
	ObjectID int64  `json:"objectId,omitempty"`
	Name     string `json:"name"`

	// Proposed holds the attribute values to write. Set only for CREATE and
	// UPDATE; an UPDATE carries only the attributes that changed.
	Proposed map[string]string `json:"proposed,omitempty"`

	// Message explains the result. Always set for ERROR.
	Message string `json:"message,omitempty"`

	// Source is the id of the data source the entity was polled from.
	Source string `json:"source,omitempty"`
}

// Key returns the identity key of the affected object.
func (r SyncResult) Key() string {
	return entity.Key(r.Class, r.Name)
}

// ProposedKeys returns the proposed attribute names, sorted.
func (r SyncResult) ProposedKeys() []string {
	keys := make([]string, 0, len(r.Proposed))
	for k := range r.Proposed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
