package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/inventory"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/provider"
	"github.com/xtxerr/invsync/internal/reconcile"
)

// TagSyncGroup is the tag of synchronization group runs.
const TagSyncGroup = "sync.group"

// Parameters recognized by TagSyncGroup jobs. A job names either a
// persisted group or an ad-hoc provider and source selection.
const (
	ParamGroup    = "group"
	ParamProvider = "provider"
	ParamSources  = "sources" // comma separated data source ids
)

// pollShare is the share of progress reported for polling; reconciling
// takes the rest.
const pollShare = 90

// Catalog resolves configured groups and data sources.
type Catalog interface {
	Group(name string) (*group.Group, error)
	DataSource(id string) (*group.DataSource, error)
}

// NewSyncJob returns a job that synchronizes g. Its target is SyncTarget(g).
func NewSyncJob(g *group.Group) *Job {
	return New(TagSyncGroup, SyncTarget(g), Params{ParamGroup: g.Name})
}

// NewAdHocSyncJob returns a job that synchronizes an explicit source
// selection. An empty target is derived from the sources' scopes.
func NewAdHocSyncJob(target, providerID string, sources ...*group.DataSource) *Job {
	ids := make([]string, len(sources))
	for i, ds := range sources {
		ids[i] = ds.ID
	}
	if target == "" {
		target = SyncTarget(group.NewAdHoc(adHocName(providerID), providerID, sources...))
	}
	return New(TagSyncGroup, target, Params{
		ParamProvider: providerID,
		ParamSources:  strings.Join(ids, ","),
	})
}

// SyncTarget returns the admission target of a run over g: the sorted
// inventory scopes its sources reconcile into. A source without a scope
// stands for itself, and a group without sources for its name. Runs of
// persisted groups and ad-hoc selections that share a scope therefore
// exclude each other.
func SyncTarget(g *group.Group) string {
	seen := make(map[string]bool)
	var scopes []string
	for _, ds := range g.Sources {
		key := "source:" + ds.ID
		if ref := g.SourceScope(ds); !ref.IsZero() {
			key = ref.String()
		}
		if !seen[key] {
			seen[key] = true
			scopes = append(scopes, key)
		}
	}
	if len(scopes) == 0 {
		return "group:" + g.Name
	}
	sort.Strings(scopes)
	return strings.Join(scopes, TargetSeparator)
}

func adHocName(providerID string) string {
	return "adhoc:" + providerID
}

// =============================================================================
// Sync Runnable
// =============================================================================

// SyncConfig wires a SyncRunnable.
type SyncConfig struct {
	Registry *provider.Registry
	Catalog  Catalog
	Store    inventory.Store

	// CacheTTL reuses inventory snapshots across runs; zero only
	// deduplicates concurrent reads.
	CacheTTL time.Duration

	Reconcile reconcile.Options
	Provider  provider.Options
}

// SyncRunnable polls a group through its provider and reconciles the
// result against the inventory, scope by scope.
type SyncRunnable struct {
	registry   *provider.Registry
	catalog    Catalog
	store      *inventory.Coalescing
	reconciler *reconcile.Engine
	opts       provider.Options
}

// NewSyncRunnable creates the runnable for TagSyncGroup.
func NewSyncRunnable(cfg SyncConfig) *SyncRunnable {
	store := inventory.Coalesce(cfg.Store, cfg.CacheTTL)
	return &SyncRunnable{
		registry:   cfg.Registry,
		catalog:    cfg.Catalog,
		store:      store,
		reconciler: reconcile.New(store, cfg.Reconcile),
		opts:       cfg.Provider,
	}
}

// Pausable implements Pausable. Sync runs pause between sources.
func (r *SyncRunnable) Pausable() bool {
	return true
}

// Run implements Runnable.
func (r *SyncRunnable) Run(ctx context.Context, rc *RunContext) ([]reconcile.SyncResult, error) {
	g, err := r.resolve(rc.Params)
	if err != nil {
		return nil, err
	}

	ctx = logging.ContextWithGroup(ctx, g.Name)
	logger := logging.WithContext(ctx)

	opts := r.opts
	opts.Checkpoint = rc.Checkpoint
	opts.OnStep = func(done, total int, ds *group.DataSource) {
		rc.Progress(done*pollShare/total, fmt.Sprintf("polled %s (%d/%d)", ds.ID, done, total))
	}

	p, err := r.registry.Bind(g, opts)
	if err != nil {
		return nil, err
	}
	defer p.Disconnect()

	rc.Progress(0, fmt.Sprintf("polling %d sources of %s", len(g.Sources), g.Name))
	polled, err := p.MappedPoll(ctx, g)
	if err != nil {
		return nil, err
	}
	logger.Debug("group polled", "entities", entity.Count(polled))

	byScope := make(map[group.ObjectRef][]*entity.Entity)
	for _, e := range polled {
		scope := g.Scope()
		if ds, err := g.Source(e.Source); err == nil {
			scope = g.SourceScope(ds)
		}
		byScope[scope] = append(byScope[scope], e)
	}

	var results []reconcile.SyncResult
	for _, scope := range g.Scopes() {
		if err := rc.Checkpoint(ctx); err != nil {
			return nil, err
		}
		if scope.IsZero() {
			return nil, errors.NewMissingField(fmt.Sprintf("group %q target", g.Name))
		}

		rs, err := r.reconciler.Reconcile(ctx, byScope[scope], scope)
		if err != nil {
			return nil, err
		}
		results = append(results, rs...)
	}

	stats := reconcile.Summarize(results)
	rc.Progress(100, fmt.Sprintf("reconciled %s: %d create, %d update, %d delete, %d unchanged, %d errors",
		g.Name, stats.Creates, stats.Updates, stats.Deletes, stats.Unchanged, stats.Errors))
	return results, nil
}

// resolve builds the group a run polls. Persisted groups are copied so
// concurrent runs never share a binding.
func (r *SyncRunnable) resolve(params Params) (*group.Group, error) {
	if name, ok := params.Get(ParamGroup); ok && name != "" {
		g, err := r.catalog.Group(name)
		if err != nil {
			return nil, err
		}
		run := *g
		run.Sources = append([]*group.DataSource(nil), g.Sources...)
		return &run, nil
	}

	providerID := params.Default(ParamProvider, "")
	ids := params.Default(ParamSources, "")
	if providerID == "" || ids == "" {
		return nil, fmt.Errorf("need %q or %q and %q: %w", ParamGroup, ParamProvider, ParamSources, errors.ErrInvalidParam)
	}

	var sources []*group.DataSource
	for _, id := range strings.Split(ids, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		ds, err := r.catalog.DataSource(id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, ds)
	}
	return group.NewAdHoc(adHocName(providerID), providerID, sources...), nil
}
