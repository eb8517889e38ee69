// Package inventory provides read access to the persisted inventory.
//
// The reconciliation engine only ever reads the direct children of a scope
// object. Writing proposed mutations back is done elsewhere; the stores in
// this package expose the minimal write surface needed to seed them.
package inventory

import (
	"context"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/group"
)

// StoredObject is one persisted child of a scope object.
type StoredObject struct {
	ID         int64             `yaml:"id"`
	Class      string            `yaml:"class"`
	Name       string            `yaml:"name"`
	Attributes map[string]string `yaml:"attributes"`

	// Protected objects were edited by an operator and must never be
	// proposed for deletion.
	Protected bool `yaml:"protected"`
}

// Key returns the identity key shared with polled entities.
func (o StoredObject) Key() string {
	return entity.Key(o.Class, o.Name)
}

// Clone returns a deep copy.
func (o StoredObject) Clone() StoredObject {
	c := o
	if o.Attributes != nil {
		c.Attributes = make(map[string]string, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Store reads the children of a scope object.
type Store interface {
	GetChildren(ctx context.Context, scope group.ObjectRef) ([]StoredObject, error)
}
