// Package cli implements sync providers that poll network devices over an
// interactive CLI (SSH) and parse the textual command output.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/parser"
	"github.com/xtxerr/invsync/internal/provider"
)

var log = logging.Component("cli")

// Provider ids and family.
const (
	IDBridgeDomain = "cisco-bridge-domain-ssh"
	IDVLAN         = "cisco-vlan-ssh"
	Family         = "cisco-cli"
)

// commandFamilies maps each provider id to the parser families it polls.
// The commands issued are those of the parsers.
var commandFamilies = map[string][]string{
	IDBridgeDomain: {parser.FamilyBridgeDomain},
	IDVLAN:         {parser.FamilyVLANBrief},
}

// Dialer opens CLI sessions.
type Dialer interface {
	Dial(ctx context.Context, ds *group.DataSource, timeout time.Duration) (provider.Session, error)
}

// Register adds the CLI providers to r, dialing through d.
func Register(r *provider.Registry, d Dialer) error {
	for _, id := range []string{IDBridgeDomain, IDVLAN} {
		id := id
		err := r.Register(provider.Descriptor{
			ID:     id,
			Family: Family,
			Factory: func(opts provider.Options) provider.Provider {
				return New(id, d, opts)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Provider polls Cisco devices over SSH.
type Provider struct {
	id       string
	dialer   Dialer
	opts     provider.Options
	sessions provider.Sessions
}

// New creates a CLI provider for one of the registered ids.
func New(id string, d Dialer, opts provider.Options) *Provider {
	return &Provider{id: id, dialer: d, opts: opts}
}

// ID returns the provider id.
func (p *Provider) ID() string {
	return p.id
}

// Connect validates ds and opens a session bounded by the connect timeout.
func (p *Provider) Connect(ctx context.Context, ds *group.DataSource) (provider.Session, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if _, ok := ds.Option(OptUsername); !ok {
		return nil, errors.Wrapf(errors.NewMissingField(OptUsername), "data source %q", ds.ID)
	}

	timeout := p.opts.ConnectTimeoutFor(ds)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sess, err := p.dialer.Dial(cctx, ds, timeout)
	if err != nil {
		if errors.Is(err, errors.ErrConnection) {
			return nil, err
		}
		return nil, errors.Connection(ds.Host, err)
	}
	p.sessions.Track(sess, ds.ID)
	return sess, nil
}

// MappedPoll polls every source of g.
func (p *Provider) MappedPoll(ctx context.Context, g *group.Group) ([]*entity.Entity, error) {
	return provider.Poll(ctx, p.id, g, p.opts, func(ctx context.Context, ds *group.DataSource) ([]*entity.Entity, error) {
		id := ds.Provider
		if id == "" {
			id = g.Provider
		}
		return p.pollSource(ctx, id, ds)
	})
}

func (p *Provider) pollSource(ctx context.Context, id string, ds *group.DataSource) ([]*entity.Entity, error) {
	families, ok := commandFamilies[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, errors.ErrUnknownProvider)
	}

	sess, err := p.Connect(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer p.sessions.Release(sess)

	var out []*entity.Entity
	for _, family := range families {
		prs, ok := parser.Lookup(family)
		if !ok {
			return nil, fmt.Errorf("parser %s: %w", family, errors.ErrUnknownProvider)
		}

		raw, err := sess.Execute(ctx, prs.Command())
		if err != nil {
			if errors.Is(err, errors.ErrExecution) {
				return nil, err
			}
			return nil, errors.Execution(prs.Command(), err)
		}

		res, err := prs.ParseContext(ctx, raw)
		for _, a := range res.Anomalies {
			log.Warn("parse anomaly",
				"source", ds.ID,
				"host", ds.Host,
				"family", a.Family,
				"line_no", a.LineNo,
				"line", a.Line,
				"reason", a.Reason)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, res.Entities...)
	}
	return out, nil
}

// Disconnect closes sessions left open by an interrupted poll.
func (p *Provider) Disconnect() {
	p.sessions.CloseAll()
}
