// Package group defines synchronization groups and their data sources.
//
// A Group bundles the data sources reconciled together in one job. Groups
// loaded from configuration carry a positive id and are reused across runs;
// ad-hoc groups (id -1) are built for a single run from an explicit source
// selection.
package group

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
)

// AdHocID is the id of groups that are not persisted.
const AdHocID int64 = -1

// ObjectRef points at an inventory object. It is the scope a poll is
// reconciled against.
type ObjectRef struct {
	Class string
	ID    int64
}

// IsZero reports whether the reference is unset.
func (r ObjectRef) IsZero() bool {
	return r.Class == "" && r.ID == 0
}

// String returns "Class#ID".
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s#%d", r.Class, r.ID)
}

// =============================================================================
// Data Source
// =============================================================================

// DataSource describes how to reach one device for one provider.
//
// Connection parameters are validated lazily by the provider at connect
// time, so a group with a broken source can still be listed and edited.
type DataSource struct {
	ID          string
	Target      ObjectRef
	Provider    string
	Host        string
	Port        int
	Credentials string
	Options     map[string]string

	// Per-source overrides; zero means the provider default.
	ConnectTimeout time.Duration
	PollTimeout    time.Duration
}

// Option returns an option value.
func (ds *DataSource) Option(key string) (string, bool) {
	v, ok := ds.Options[key]
	return v, ok
}

// OptionDefault returns an option value or def when unset or empty.
func (ds *DataSource) OptionDefault(key, def string) string {
	if v, ok := ds.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// OptionBool parses a boolean option. Unset or unparseable values are false.
func (ds *DataSource) OptionBool(key string) bool {
	v, ok := ds.Options[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Validate checks the connection parameters shared by all providers. An
// empty Provider inherits the group's.
func (ds *DataSource) Validate() error {
	var errs errors.ValidationErrors

	if ds.ID == "" {
		errs.AddMissing("id")
	}
	if ds.Host == "" {
		errs.AddMissing("host")
	}
	if ds.Port < 0 || ds.Port > 65535 {
		errs.AddField("port", "must be 0-65535")
	}
	if ds.ConnectTimeout < 0 {
		errs.AddField("connect_timeout", "must not be negative")
	}
	if ds.PollTimeout < 0 {
		errs.AddField("poll_timeout", "must not be negative")
	}

	if err := errs.Err(); err != nil {
		return errors.Wrapf(err, "data source %q", ds.ID)
	}
	return nil
}

// Address returns host:port, using defaultPort when Port is unset.
func (ds *DataSource) Address(defaultPort int) string {
	port := ds.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(ds.Host, strconv.Itoa(port))
}

// Timeouts returns the effective connect and poll timeouts.
func (ds *DataSource) Timeouts(connect, poll time.Duration) (time.Duration, time.Duration) {
	if ds.ConnectTimeout > 0 {
		connect = ds.ConnectTimeout
	}
	if ds.PollTimeout > 0 {
		poll = ds.PollTimeout
	}
	return connect, poll
}

// =============================================================================
// Group
// =============================================================================

// Binding is the provider instance a group polls through.
type Binding interface {
	ID() string
}

// FamilyResolver maps provider ids to provider families.
type FamilyResolver interface {
	Family(providerID string) (string, bool)
}

// Group is a synchronization group.
type Group struct {
	ID       int64
	Name     string
	Provider string
	Target   ObjectRef
	Sources  []*DataSource

	// Interval re-runs the group periodically in serve mode; zero disables.
	Interval time.Duration

	bound Binding
}

// NewAdHoc builds a one-shot group from an explicit source selection.
func NewAdHoc(name, provider string, sources ...*DataSource) *Group {
	g := &Group{
		ID:       AdHocID,
		Name:     name,
		Provider: provider,
		Sources:  sources,
	}
	if len(sources) > 0 {
		g.Target = sources[0].Target
	}
	return g
}

// IsAdHoc reports whether the group is not persisted.
func (g *Group) IsAdHoc() bool {
	return g.ID == AdHocID
}

// Bind attaches the provider instance that will poll the group.
func (g *Group) Bind(b Binding) error {
	if b == nil {
		return errors.NewMissingField("provider binding")
	}
	if b.ID() != g.Provider {
		return fmt.Errorf("group %q wants provider %q, got %q: %w",
			g.Name, g.Provider, b.ID(), errors.ErrIncompatibleProvider)
	}
	g.bound = b
	return nil
}

// Bound returns the bound provider, or nil.
func (g *Group) Bound() Binding {
	return g.bound
}

// Source returns the data source with the given id.
func (g *Group) Source(id string) (*DataSource, error) {
	for _, ds := range g.Sources {
		if ds.ID == id {
			return ds, nil
		}
	}
	return nil, fmt.Errorf("%s in group %q: %w", id, g.Name, errors.ErrSourceNotFound)
}

// CheckCompatibility verifies that every source's provider belongs to the
// same family as the group's provider. It must pass before a poll.
func (g *Group) CheckCompatibility(r FamilyResolver) error {
	if len(g.Sources) == 0 {
		return fmt.Errorf("group %q: %w", g.Name, errors.ErrEmptyGroup)
	}

	family, ok := r.Family(g.Provider)
	if !ok {
		return fmt.Errorf("group %q: %s: %w", g.Name, g.Provider, errors.ErrUnknownProvider)
	}

	for _, ds := range g.Sources {
		if ds.Provider == "" {
			continue // inherits the group provider
		}
		f, ok := r.Family(ds.Provider)
		if !ok {
			return fmt.Errorf("source %q: %s: %w", ds.ID, ds.Provider, errors.ErrUnknownProvider)
		}
		if f != family {
			return fmt.Errorf("source %q uses %s (family %s), group %q uses %s (family %s): %w",
				ds.ID, ds.Provider, f, g.Name, g.Provider, family, errors.ErrIncompatibleProvider)
		}
	}
	return nil
}

// Scope returns the inventory object the group is reconciled against.
func (g *Group) Scope() ObjectRef {
	if !g.Target.IsZero() || len(g.Sources) == 0 {
		return g.Target
	}
	return g.Sources[0].Target
}

// Scopes returns the distinct targets of the group's sources in
// declaration order. Sources without a target use the group scope.
func (g *Group) Scopes() []ObjectRef {
	var out []ObjectRef
	seen := make(map[ObjectRef]bool)
	for _, ds := range g.Sources {
		ref := g.SourceScope(ds)
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// SourceScope returns the scope a source's entities are reconciled in.
func (g *Group) SourceScope(ds *DataSource) ObjectRef {
	if ds.Target.IsZero() {
		return g.Scope()
	}
	return ds.Target
}

// Validate checks the group definition. Source connection parameters are
// left to the provider.
func (g *Group) Validate() error {
	var errs errors.ValidationErrors

	if g.Name == "" {
		errs.AddMissing("name")
	}
	if g.Provider == "" {
		errs.AddMissing("provider")
	}
	if len(g.Sources) == 0 {
		errs.Add(errors.ErrEmptyGroup)
	}
	if g.Interval < 0 {
		errs.AddField("interval", "must not be negative")
	}

	ids := make(map[string]bool, len(g.Sources))
	for _, ds := range g.Sources {
		if ds == nil {
			errs.AddField("sources", "nil entry")
			continue
		}
		if ids[ds.ID] {
			errs.AddField("sources", fmt.Sprintf("duplicate source id %q", ds.ID))
		}
		ids[ds.ID] = true
	}

	if err := errs.Err(); err != nil {
		return errors.Wrapf(err, "group %q", g.Name)
	}
	return nil
}
