package loader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
)

// Catalog holds the configured groups and data sources. It implements
// jobs.Catalog and is swapped atomically on reload.
//
// Catalog is safe for concurrent use. Returned groups and sources are
// shared and must not be modified.
type Catalog struct {
	mu      sync.RWMutex
	groups  map[string]*group.Group
	sources map[string]*group.DataSource
}

// NewCatalog validates cfg and builds a catalog from it.
func NewCatalog(cfg *Config) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the catalog content. On error the previous content is
// kept.
func (c *Catalog) Reload(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	sources, err := ToSources(cfg)
	if err != nil {
		return err
	}
	groups, err := ToGroups(cfg, sources)
	if err != nil {
		return err
	}

	byName := make(map[string]*group.Group, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}

	c.mu.Lock()
	c.groups = byName
	c.sources = sources
	c.mu.Unlock()
	return nil
}

// Group returns a group by name.
func (c *Catalog) Group(name string) (*group.Group, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, ok := c.groups[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errors.ErrGroupNotFound)
	}
	return g, nil
}

// DataSource returns a data source by id.
func (c *Catalog) DataSource(id string) (*group.DataSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ds, ok := c.sources[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, errors.ErrSourceNotFound)
	}
	return ds, nil
}

// Groups returns all groups ordered by name.
func (c *Catalog) Groups() []*group.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*group.Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
