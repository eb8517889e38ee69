package jobs

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/inventory"
	"github.com/xtxerr/invsync/internal/provider"
	"github.com/xtxerr/invsync/internal/provider/cli"
	"github.com/xtxerr/invsync/internal/reconcile"
	itesting "github.com/xtxerr/invsync/internal/testing"
)

const vlanBrief = `VLAN Name                             Status    Ports
---- -------------------------------- --------- -------------------------------
1    default                          active    Gi0/1
10   Sales                            active
`

var router = group.ObjectRef{Class: "Router", ID: 1}

type catalog struct {
	groups  map[string]*group.Group
	sources map[string]*group.DataSource
}

func (c *catalog) Group(name string) (*group.Group, error) {
	g, ok := c.groups[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, errors.ErrGroupNotFound)
	}
	return g, nil
}

func (c *catalog) DataSource(id string) (*group.DataSource, error) {
	ds, ok := c.sources[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, errors.ErrSourceNotFound)
	}
	return ds, nil
}

func dataSource(id string) *group.DataSource {
	return &group.DataSource{
		ID:      id,
		Target:  router,
		Host:    id,
		Options: map[string]string{cli.OptUsername: "netops", cli.OptPassword: "secret", cli.OptInsecure: "true"},
	}
}

type syncFixture struct {
	engine  *Engine
	rec     *recorder
	store   *inventory.MemoryStore
	catalog *catalog
}

func newSyncFixture(t *testing.T, sessions map[string]*itesting.Session, opts provider.Options) *syncFixture {
	t.Helper()

	reg := provider.NewRegistry()
	if err := cli.Register(reg, &itesting.Dialer{Sessions: sessions}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	store := inventory.NewMemoryStore()
	store.Put(router,
		inventory.StoredObject{Class: "VLAN", Name: "default", Attributes: map[string]string{
			"vlanId": "1", "status": "active", "members": "port/gi0/1",
		}},
		inventory.StoredObject{Class: "VLAN", Name: "old", Attributes: map[string]string{
			"vlanId": "99", "status": "active",
		}},
	)

	cat := &catalog{groups: map[string]*group.Group{}, sources: map[string]*group.DataSource{}}
	for host := range sessions {
		cat.sources[host] = dataSource(host)
	}

	e, rec := newEngine(t)
	e.Register(TagSyncGroup, NewSyncRunnable(SyncConfig{
		Registry: reg,
		Catalog:  cat,
		Store:    store,
		Provider: opts,
	}))
	return &syncFixture{engine: e, rec: rec, store: store, catalog: cat}
}

func (f *syncFixture) addGroup(name string, sourceIDs ...string) *group.Group {
	g := &group.Group{ID: int64(len(f.catalog.groups) + 1), Name: name, Provider: cli.IDVLAN, Target: router}
	for _, id := range sourceIDs {
		g.Sources = append(g.Sources, f.catalog.sources[id])
	}
	f.catalog.groups[name] = g
	return g
}

func summary(results []reconcile.SyncResult) string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = string(r.Type) + ":" + r.Name
	}
	return strings.Join(out, " ")
}

// =============================================================================
// End to end
// =============================================================================

func TestSync_Group(t *testing.T) {
	f := newSyncFixture(t, map[string]*itesting.Session{
		"sw1": {Outputs: map[string]string{"show vlan brief": vlanBrief}},
	}, provider.Options{})
	j := NewSyncJob(f.addGroup("access", "sw1"))
	if err := f.engine.Run(j); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wait(t, f.engine, j)

	if j.Status() != StatusFinished {
		t.Fatalf("Status() = %s, Captured() = %v", j.Status(), j.Captured())
	}
	if got, want := summary(j.Result()), "CREATE:Sales DELETE:old NO_CHANGE:default"; got != want {
		t.Errorf("results = %s, want %s", got, want)
	}
	for _, r := range j.Result() {
		if r.Source != "" && r.Source != "sw1" {
			t.Errorf("%s source = %q", r.Name, r.Source)
		}
	}

	progress := f.rec.Progress()
	if len(progress) < 3 {
		t.Fatalf("progress = %v", progress)
	}
	if !strings.Contains(progress[1], ":90:polled sw1 (1/1)") {
		t.Errorf("poll progress = %q", progress[1])
	}
	last := progress[len(progress)-1]
	if !strings.Contains(last, ":100:reconciled access: 1 create, 0 update, 1 delete, 1 unchanged, 0 errors") {
		t.Errorf("final progress = %q", last)
	}

	if s := j.Snapshot().Stats; s == nil || s.Creates != 1 || s.Deletes != 1 || s.Unchanged != 1 {
		t.Errorf("Snapshot().Stats = %+v", s)
	}
}

func TestSync_AdHoc(t *testing.T) {
	f := newSyncFixture(t, map[string]*itesting.Session{
		"sw1": {Outputs: map[string]string{"show vlan brief": vlanBrief}},
	}, provider.Options{})

	j := NewAdHocSyncJob("", cli.IDVLAN, f.catalog.sources["sw1"])
	if err := f.engine.Run(j); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wait(t, f.engine, j)

	if got, want := summary(j.Result()), "CREATE:Sales DELETE:old NO_CHANGE:default"; got != want {
		t.Errorf("results = %s, want %s", got, want)
	}
}

func TestSync_InvalidParams(t *testing.T) {
	f := newSyncFixture(t, map[string]*itesting.Session{}, provider.Options{})

	tests := []struct {
		name string
		job  *Job
		want errors.Kind
	}{
		{"no selection", New(TagSyncGroup, "x", nil), errors.KindConfig},
		{"unknown group", NewSyncJob(&group.Group{Name: "missing"}), errors.KindConfig},
		{"unknown source", NewAdHocSyncJob("x", cli.IDVLAN, &group.DataSource{ID: "nope"}), errors.KindConfig},
		{"unknown provider", NewAdHocSyncJob("y", "nope", dataSource("sw1")), errors.KindConfig},
	}
	f.catalog.sources["sw1"] = dataSource("sw1")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.engine.Run(tt.job); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			wait(t, f.engine, tt.job)

			c := tt.job.Captured()
			if tt.job.Status() != StatusAborted || c == nil || c.Kind != tt.want {
				t.Errorf("Status() = %s, Captured() = %+v", tt.job.Status(), c)
			}
		})
	}
}

func TestSyncTarget(t *testing.T) {
	sw := func(id string, ref group.ObjectRef) *group.DataSource {
		return &group.DataSource{ID: id, Target: ref}
	}
	r1 := group.ObjectRef{Class: "Router", ID: 1}
	r2 := group.ObjectRef{Class: "Router", ID: 2}

	tests := []struct {
		name string
		g    *group.Group
		want string
	}{
		{"group scope", &group.Group{Name: "access", Target: r2, Sources: []*group.DataSource{sw("a", group.ObjectRef{})}}, "Router#2"},
		{"source scopes sorted", &group.Group{Name: "core", Sources: []*group.DataSource{sw("b", r2), sw("a", r1), sw("c", r2)}}, "Router#1,Router#2"},
		{"no scope", &group.Group{Name: "lab", Sources: []*group.DataSource{sw("b", group.ObjectRef{}), sw("a", group.ObjectRef{})}}, "source:a,source:b"},
		{"no sources", &group.Group{Name: "empty"}, "group:empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SyncTarget(tt.g); got != tt.want {
				t.Errorf("SyncTarget() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := NewAdHocSyncJob("", cli.IDVLAN, sw("a", r1), sw("b", r2)).Target; got != "Router#1,Router#2" {
		t.Errorf("ad-hoc target = %q", got)
	}
	if got := NewAdHocSyncJob("lab", cli.IDVLAN, sw("a", r1)).Target; got != "lab" {
		t.Errorf("explicit ad-hoc target = %q", got)
	}
}

// Runs are admitted by inventory scope: an ad-hoc run on a group's scope
// is rejected, one on another device's scope interleaves.
func TestSync_AdmissionByScope(t *testing.T) {
	hold := &itesting.Session{Hold: make(chan struct{}), Outputs: map[string]string{"show vlan brief": vlanBrief}}
	other := &itesting.Session{Outputs: map[string]string{"show vlan brief": vlanBrief}}
	f := newSyncFixture(t, map[string]*itesting.Session{"sw1": hold, "sw2": other}, provider.Options{PollTimeout: time.Minute})
	f.catalog.sources["sw2"].Target = group.ObjectRef{Class: "Router", ID: 2}

	first := NewSyncJob(f.addGroup("access", "sw1"))
	if err := f.engine.Run(first); err != nil {
		t.Fatalf("Run(group) error = %v", err)
	}

	same := NewAdHocSyncJob("", cli.IDVLAN, f.catalog.sources["sw1"])
	if err := f.engine.Run(same); !errors.Is(err, errors.ErrConcurrentJobRejected) {
		t.Errorf("Run(ad-hoc same scope) error = %v", err)
	}

	elsewhere := NewAdHocSyncJob("", cli.IDVLAN, f.catalog.sources["sw2"])
	if err := f.engine.Run(elsewhere); err != nil {
		t.Fatalf("Run(ad-hoc other scope) error = %v", err)
	}
	wait(t, f.engine, elsewhere)
	if elsewhere.Status() != StatusFinished || first.Status() != StatusRunning {
		t.Errorf("elsewhere = %s, first = %s", elsewhere.Status(), first.Status())
	}

	close(hold.Hold)
	wait(t, f.engine, first)
}

// A source that never answers fails the poll once its timeout expires.
// Nothing is reported for the sources polled before it.
func TestSync_PollTimeout(t *testing.T) {
	f := newSyncFixture(t, map[string]*itesting.Session{
		"a": {Outputs: map[string]string{"show vlan brief": vlanBrief}},
		"b": {Hold: make(chan struct{})},
	}, provider.Options{PollTimeout: 100 * time.Millisecond})
	j := NewSyncJob(f.addGroup("pair", "a", "b"))
	if err := f.engine.Run(j); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wait(t, f.engine, j)

	c := j.Captured()
	if j.Status() != StatusAborted || c == nil {
		t.Fatalf("Status() = %s, Captured() = %v", j.Status(), c)
	}
	if c.Kind != errors.KindPoll || !strings.Contains(c.Message, `poll source "b"`) {
		t.Errorf("Captured() = %+v", c)
	}
	if j.Result() != nil {
		t.Errorf("Result() = %v, want nil", j.Result())
	}
	if _, ok := f.rec.Results(j.ID()); ok {
		t.Error("failed poll reported results")
	}
}

func TestSync_KillMidPoll(t *testing.T) {
	hold := &itesting.Session{Hold: make(chan struct{})}
	f := newSyncFixture(t, map[string]*itesting.Session{"sw1": hold}, provider.Options{PollTimeout: time.Minute})
	j := NewSyncJob(f.addGroup("access", "sw1"))
	if err := f.engine.Run(j); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	err := itesting.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return len(hold.Commands()) > 0
	})
	if err != nil {
		t.Fatalf("poll never started: %v", err)
	}

	f.engine.Kill(j)
	wait(t, f.engine, j)

	if j.Status() != StatusAborted || j.Captured() != nil || j.Result() != nil {
		t.Errorf("Status() = %s, Captured() = %v, Result() = %v", j.Status(), j.Captured(), j.Result())
	}

	// The poll unwinds and the session is released.
	err = itesting.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return hold.Closed() > 0
	})
	if err != nil {
		t.Errorf("session not closed: %v", err)
	}
	if _, ok := f.rec.Results(j.ID()); ok {
		t.Error("killed job reported results")
	}
}

func TestSync_ConcurrentGroupRejected(t *testing.T) {
	hold := &itesting.Session{Hold: make(chan struct{}), Outputs: map[string]string{"show vlan brief": vlanBrief}}
	f := newSyncFixture(t, map[string]*itesting.Session{"sw1": hold}, provider.Options{PollTimeout: time.Minute})
	g := f.addGroup("access", "sw1")

	first := NewSyncJob(g)
	if err := f.engine.Run(first); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := f.engine.Run(NewSyncJob(g)); !errors.Is(err, errors.ErrConcurrentJobRejected) {
		t.Errorf("second Run() error = %v", err)
	}

	close(hold.Hold)
	wait(t, f.engine, first)
	if first.Status() != StatusFinished {
		t.Errorf("Status() = %s, Captured() = %v", first.Status(), first.Captured())
	}
}
