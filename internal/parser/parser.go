// Package parser turns raw CLI output into entity trees.
//
// Each command family has a Grammar. The Parser drives a line-scanning
// state machine over the raw text and asks the grammar to open records,
// attach classified children, and recognize record boundaries:
//
//	StateStart --header--> StateInRecord --boundary--> StateClosingRecord
//	     ^                      |   ^                       |
//	     +-------blank----------+   +-------header----------+
//
// A blank line always ends the current record, and so does a malformed
// header line. Input that no grammar rule
// recognizes becomes an Unknown entity and a ParseAnomaly; the parser never
// fails on data shape.
package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
)

// State is a parser state.
type State int

const (
	StateStart State = iota
	StateInRecord
	StateClosingRecord
	StateEnd
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateInRecord:
		return "IN_RECORD"
	case StateClosingRecord:
		return "CLOSING_RECORD"
	case StateEnd:
		return "END"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Grammar describes one command family's output format.
//
// fields is always strings.Fields(line); grammars must not retain it.
type Grammar interface {
	// Family is the registry name, e.g. "bridge-domain".
	Family() string

	// Command is the CLI command whose output this grammar understands.
	Command() string

	// Open reports whether line is a record header and returns the new
	// top-level entity. A header that cannot be built returns rec == nil
	// and the reason as anomaly; the parser then closes the current record
	// and keeps the line as a top-level Unknown. A built record may still
	// carry an anomaly, e.g. duplicated children on the header line.
	Open(line string, fields []string) (rec *entity.Entity, header bool, anomaly string)

	// Skip reports noise lines that carry no data (column headers, rulers).
	Skip(line string, fields []string) bool

	// Boundary reports whether line closes rec. The grammar may capture
	// data from the sentinel line.
	Boundary(rec *entity.Entity, line string, fields []string) bool

	// Attach consumes a line inside an open record. It returns handled=false
	// when no rule matched the line, and a non-nil anomaly reason when a rule
	// matched but the line was malformed or duplicated.
	Attach(rec *entity.Entity, line string, fields []string) (handled bool, anomaly string)
}

// Result is the outcome of a parse.
type Result struct {
	Entities  []*entity.Entity
	Anomalies []*errors.ParseAnomaly
}

// Parser runs the state machine for one grammar. A Parser is stateless
// between calls and safe for concurrent use.
type Parser struct {
	g Grammar
}

// New returns a parser for g.
func New(g Grammar) *Parser {
	return &Parser{g: g}
}

// Family returns the grammar's family name.
func (p *Parser) Family() string {
	return p.g.Family()
}

// Command returns the CLI command the grammar parses.
func (p *Parser) Command() string {
	return p.g.Command()
}

// Parse returns the entities found in raw. Empty input yields an empty,
// non-nil slice.
func (p *Parser) Parse(raw string) []*entity.Entity {
	res, _ := p.ParseContext(context.Background(), raw)
	return res.Entities
}

// ParseContext is Parse with cancellation checked after every completed
// record. On cancellation the records completed so far are returned
// together with the context error.
func (p *Parser) ParseContext(ctx context.Context, raw string) (res Result, err error) {
	m := &machine{g: p.g, family: p.g.Family(), out: make([]*entity.Entity, 0)}

	defer func() {
		if r := recover(); r != nil {
			m.anomaly(m.lineNo, "", fmt.Sprintf("grammar fault: %v", r))
			m.state = StateEnd
			res = Result{Entities: m.out, Anomalies: m.anomalies}
		}
	}()

	for _, line := range strings.Split(raw, "\n") {
		m.lineNo++
		closed := len(m.out)
		m.step(strings.TrimRight(line, " \t\r"))

		if len(m.out) != closed {
			if err := ctx.Err(); err != nil {
				return Result{Entities: m.out, Anomalies: m.anomalies}, err
			}
		}
	}
	m.finish()

	return Result{Entities: m.out, Anomalies: m.anomalies}, nil
}

// =============================================================================
// State machine
// =============================================================================

type machine struct {
	g         Grammar
	family    string
	state     State
	cur       *entity.Entity
	out       []*entity.Entity
	anomalies []*errors.ParseAnomaly
	lineNo    int
}

func (m *machine) step(line string) {
	fields := strings.Fields(line)
	blank := len(fields) == 0

	switch m.state {
	case StateStart:
		if blank || m.g.Skip(line, fields) {
			return
		}
		if m.header(line, fields) {
			return
		}
		m.anomaly(m.lineNo, line, "unrecognized line outside record")
		m.out = append(m.out, entity.NewUnknown(line))

	case StateInRecord:
		if blank {
			m.close()
			m.state = StateStart
			return
		}
		if m.header(line, fields) {
			return
		}
		if m.g.Boundary(m.cur, line, fields) {
			m.close()
			m.state = StateClosingRecord
			return
		}
		if m.g.Skip(line, fields) {
			return
		}
		m.attach(line, fields)

	case StateClosingRecord:
		// The record tail (e.g. a MAC address table) is consumed until
		// a blank line or the next record header.
		if blank {
			m.state = StateStart
			return
		}
		m.header(line, fields)

	case StateEnd:
	}
}

// header handles line if the grammar recognizes it as a record header,
// closing the current record first.
func (m *machine) header(line string, fields []string) bool {
	rec, ok, reason := m.g.Open(line, fields)
	if !ok {
		return false
	}
	m.close()

	if rec == nil {
		if reason == "" {
			reason = "malformed record header"
		}
		m.anomaly(m.lineNo, line, reason)
		m.out = append(m.out, entity.NewUnknown(line))
		m.state = StateStart
		return true
	}
	if reason != "" {
		m.anomaly(m.lineNo, line, reason)
	}
	m.cur = rec
	m.state = StateInRecord
	return true
}

func (m *machine) close() {
	if m.cur != nil {
		m.out = append(m.out, m.cur)
		m.cur = nil
	}
}

func (m *machine) attach(line string, fields []string) {
	handled, reason := m.g.Attach(m.cur, line, fields)
	if handled {
		if reason != "" {
			m.anomaly(m.lineNo, line, reason)
		}
		return
	}

	m.anomaly(m.lineNo, line, "unclassified line")
	if err := m.cur.AddChild(entity.NewUnknown(line)); err != nil {
		m.anomaly(m.lineNo, line, err.Error())
	}
}

func (m *machine) finish() {
	m.close()
	m.state = StateEnd
}

func (m *machine) anomaly(lineNo int, line, reason string) {
	m.anomalies = append(m.anomalies, &errors.ParseAnomaly{
		Family: m.family,
		LineNo: lineNo,
		Line:   strings.TrimSpace(line),
		Reason: reason,
	})
}
