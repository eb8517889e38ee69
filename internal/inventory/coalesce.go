package inventory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/logging"
)

var log = logging.Component("inventory")

type snapshot struct {
	objs      []StoredObject
	createdAt time.Time
}

// Coalescing deduplicates concurrent reads of the same scope and optionally
// reuses a snapshot for ttl.
//
// Coalescing is safe for concurrent use.
type Coalescing struct {
	store Store
	ttl   time.Duration

	// Singleflight to prevent thundering herd when several jobs reconcile
	// the same scope
	group singleflight.Group
	cache sync.Map
}

// Coalesce wraps s. A zero ttl only deduplicates in-flight reads.
func Coalesce(s Store, ttl time.Duration) *Coalescing {
	return &Coalescing{store: s, ttl: ttl}
}

// GetChildren implements Store. Every caller receives its own copy.
func (c *Coalescing) GetChildren(ctx context.Context, scope group.ObjectRef) ([]StoredObject, error) {
	key := scope.String()

	if c.ttl > 0 {
		if entry, ok := c.cache.Load(key); ok {
			snap := entry.(*snapshot)
			if time.Since(snap.createdAt) < c.ttl {
				return cloneAll(snap.objs), nil
			}
		}
	}

	// The shared read must not fail because the first caller went away.
	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		objs, err := c.store.GetChildren(context.WithoutCancel(ctx), scope)
		if err != nil {
			return nil, err
		}
		if c.ttl > 0 {
			c.cache.Store(key, &snapshot{objs: objs, createdAt: time.Now()})
		}
		return objs, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("coalesced inventory read", "scope", key)
	}
	return cloneAll(result.([]StoredObject)), nil
}

// Invalidate drops the cached snapshot of scope.
func (c *Coalescing) Invalidate(scope group.ObjectRef) {
	c.cache.Delete(scope.String())
}

func cloneAll(objs []StoredObject) []StoredObject {
	out := make([]StoredObject, len(objs))
	for i, o := range objs {
		out[i] = o.Clone()
	}
	return out
}
