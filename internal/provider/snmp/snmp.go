// Package snmp implements the IF-MIB sync provider.
//
// The provider walks the interface table of each data source and maps every
// row to a NetworkInterface entity named after ifDescr.
package snmp

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/provider"
)

var log = logging.Component("snmp")

// Provider id and family.
const (
	IDIfMIB = "snmp-ifmib"
	Family  = "snmp"
)

// ClassNetworkInterface is the inventory class of polled interfaces.
const ClassNetworkInterface = "NetworkInterface"

// IF-MIB columns.
const (
	OIDIfEntry       = ".1.3.6.1.2.1.2.2.1"
	OIDIfAlias       = ".1.3.6.1.2.1.31.1.1.1.18"
	colIfDescr       = "2"
	colIfAdminStatus = "7"
	colIfOperStatus  = "8"
)

var ifStatus = map[int]string{
	1: "up",
	2: "down",
	3: "testing",
	4: "unknown",
	5: "dormant",
	6: "notPresent",
	7: "lowerLayerDown",
}

// Register adds the SNMP provider to r, connecting through c. A nil c uses
// gosnmp.
func Register(r *provider.Registry, c Connector) error {
	return r.Register(provider.Descriptor{
		ID:     IDIfMIB,
		Family: Family,
		Factory: func(opts provider.Options) provider.Provider {
			return New(c, opts)
		},
	})
}

// Provider polls IF-MIB over SNMP.
type Provider struct {
	connect  Connector
	opts     provider.Options
	sessions provider.Sessions
}

// New creates an IF-MIB provider.
func New(c Connector, opts provider.Options) *Provider {
	if c == nil {
		c = Connect
	}
	return &Provider{connect: c, opts: opts}
}

// ID returns the provider id.
func (p *Provider) ID() string {
	return IDIfMIB
}

// Connect validates ds and opens an SNMP session.
func (p *Provider) Connect(ctx context.Context, ds *group.DataSource) (provider.Session, error) {
	timeout := p.opts.ConnectTimeoutFor(ds)
	cfg, err := ConfigFrom(ds, timeout)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w, err := p.connect(cctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{walker: w, root: ds.OptionDefault(OptOID, OIDIfEntry)}
	p.sessions.Track(s, ds.ID)
	return s, nil
}

// MappedPoll walks the interface table of every source of g.
func (p *Provider) MappedPoll(ctx context.Context, g *group.Group) ([]*entity.Entity, error) {
	return provider.Poll(ctx, IDIfMIB, g, p.opts, p.pollSource)
}

func (p *Provider) pollSource(ctx context.Context, ds *group.DataSource) ([]*entity.Entity, error) {
	sess, err := p.Connect(ctx, ds)
	if err != nil {
		return nil, err
	}
	defer p.sessions.Release(sess)

	s := sess.(*Session)
	rows, err := s.interfaces(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("interface table walked", "source", ds.ID, "host", ds.Host, "rows", len(rows))
	return rows, nil
}

// Disconnect closes sessions left open by an interrupted poll.
func (p *Provider) Disconnect() {
	p.sessions.CloseAll()
}

// =============================================================================
// Session
// =============================================================================

// Session is an SNMP session. Execute treats the command as a root OID and
// returns the walk in "oid = value" lines.
type Session struct {
	walker Walker
	root   string
}

// Execute walks command as an OID subtree.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	pdus, err := s.walker.Walk(ctx, command)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, pdu := range pdus {
		fmt.Fprintf(&b, "%s = %s\n", pdu.Name, valueString(pdu))
	}
	return b.String(), nil
}

// Close closes the underlying transport.
func (s *Session) Close() error {
	return s.walker.Close()
}

type ifRow struct {
	index int
	descr string
	attrs map[string]string
}

func (s *Session) interfaces(ctx context.Context) ([]*entity.Entity, error) {
	rows := make(map[int]*ifRow)
	row := func(idx int) *ifRow {
		r, ok := rows[idx]
		if !ok {
			r = &ifRow{index: idx, attrs: make(map[string]string)}
			rows[idx] = r
		}
		return r
	}

	columns := []struct {
		oid   string
		apply func(r *ifRow, pdu gosnmp.SnmpPDU)
	}{
		{s.root + "." + colIfDescr, func(r *ifRow, pdu gosnmp.SnmpPDU) { r.descr = valueString(pdu) }},
		{s.root + "." + colIfAdminStatus, func(r *ifRow, pdu gosnmp.SnmpPDU) { r.attrs["adminStatus"] = statusString(pdu) }},
		{s.root + "." + colIfOperStatus, func(r *ifRow, pdu gosnmp.SnmpPDU) { r.attrs["operStatus"] = statusString(pdu) }},
		{OIDIfAlias, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if v := valueString(pdu); v != "" {
				r.attrs["alias"] = v
			}
		}},
	}

	for _, col := range columns {
		pdus, err := s.walker.Walk(ctx, col.oid)
		if err != nil {
			return nil, err
		}
		for _, pdu := range pdus {
			idx, ok := rowIndex(col.oid, pdu.Name)
			if !ok {
				continue
			}
			col.apply(row(idx), pdu)
		}
	}

	indexes := make([]int, 0, len(rows))
	for idx, r := range rows {
		if r.descr != "" {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)

	out := make([]*entity.Entity, 0, len(indexes))
	for _, idx := range indexes {
		r := rows[idx]
		e := entity.New(ClassNetworkInterface, r.descr, entity.DataTypeObject)
		e.SetAttr("ifIndex", strconv.Itoa(idx))
		for k, v := range r.attrs {
			e.SetAttr(k, v)
		}
		out = append(out, e)
	}
	return out, nil
}

// rowIndex extracts the single-component row index below column.
func rowIndex(column, name string) (int, bool) {
	column = "." + strings.TrimPrefix(column, ".")
	name = "." + strings.TrimPrefix(name, ".")

	suffix, ok := strings.CutPrefix(name, column+".")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func valueString(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.Integer:
		if v, ok := pdu.Value.(int); ok {
			return strconv.Itoa(v)
		}
	case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).String()
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView:
		return ""
	}
	return fmt.Sprint(pdu.Value)
}

func statusString(pdu gosnmp.SnmpPDU) string {
	if v, ok := pdu.Value.(int); ok {
		if s, ok := ifStatus[v]; ok {
			return s
		}
	}
	return valueString(pdu)
}
