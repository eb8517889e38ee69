package parser

import (
	"fmt"
	"strings"

	"github.com/xtxerr/invsync/internal/entity"
)

// MatchKind selects how a Marker recognizes a line.
type MatchKind int

const (
	// MatchPrefix matches when the trimmed line starts with Token.
	MatchPrefix MatchKind = iota

	// MatchWord matches when the first field equals Token.
	MatchWord

	// MatchContains matches when the line contains Token anywhere.
	MatchContains
)

// Marker classifies one line shape into a child entity subtype.
//
// The entity name is re-joined from NameFields consecutive fields starting
// at NameFrom, so names containing whitespace survive tokenization. A
// line with fewer fields than NameFrom+NameFields matches the marker but
// cannot be named; it degrades to an Unknown entity.
//
// All comparisons are case-insensitive.
type Marker struct {
	Kind       MatchKind
	Token      string
	Class      string
	DataType   entity.DataType
	NameFrom   int
	NameFields int

	// Attrs optionally extracts attributes from the line's fields. It is
	// only called once the name contract is satisfied.
	Attrs func(e *entity.Entity, fields []string)
}

// Match reports whether the marker recognizes the line.
func (m Marker) Match(line string, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	token := strings.ToLower(m.Token)

	switch m.Kind {
	case MatchPrefix:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), token)
	case MatchWord:
		return strings.EqualFold(fields[0], m.Token)
	case MatchContains:
		return strings.Contains(strings.ToLower(line), token)
	default:
		return false
	}
}

// MinFields returns the number of fields the name contract requires.
func (m Marker) MinFields() int {
	return m.NameFrom + m.NameFields
}

// Build creates the entity for a matched line. It fails when the line
// does not carry enough fields for the name contract.
func (m Marker) Build(fields []string) (*entity.Entity, error) {
	if len(fields) < m.MinFields() {
		return nil, fmt.Errorf("%s needs %d fields, got %d", m.Class, m.MinFields(), len(fields))
	}

	name := strings.Join(fields[m.NameFrom:m.MinFields()], " ")
	e := entity.New(m.Class, name, m.DataType)
	if m.Attrs != nil {
		m.Attrs(e, fields)
	}
	return e, nil
}

// Classifier attaches lines to a record through an ordered marker list.
// The first matching marker wins.
type Classifier []Marker

// Attach implements the Grammar.Attach contract for marker-driven grammars.
func (c Classifier) Attach(rec *entity.Entity, line string, fields []string) (bool, string) {
	for _, m := range c {
		if !m.Match(line, fields) {
			continue
		}

		child, err := m.Build(fields)
		if err != nil {
			if addErr := rec.AddChild(entity.NewUnknown(line)); addErr != nil {
				return true, addErr.Error()
			}
			return true, err.Error()
		}
		if err := rec.AddChild(child); err != nil {
			return true, err.Error()
		}
		return true, ""
	}
	return false, ""
}

// AttrLabel extracts a "Label: value" pair. Several labels may share one
// line; a value runs until the next known label.
type AttrLabel struct {
	Label string
	Name  string

	// FirstToken keeps only the first token of the value ("300 second(s)"
	// becomes "300").
	FirstToken bool
}

// ExtractLabels sets every label found in line on e and reports whether
// the line starts with one of them.
func ExtractLabels(e *entity.Entity, line string, labels []AttrLabel) bool {
	trimmed := strings.TrimSpace(line)

	type hit struct {
		pos   int
		label AttrLabel
	}
	var hits []hit
	for _, l := range labels {
		if i := strings.Index(trimmed, l.Label+":"); i >= 0 {
			hits = append(hits, hit{pos: i, label: l})
		}
	}
	if len(hits) == 0 {
		return false
	}

	starts := false
	for _, h := range hits {
		if h.pos == 0 {
			starts = true
		}
	}
	if !starts {
		return false
	}

	for _, h := range hits {
		valueStart := h.pos + len(h.label.Label) + 1
		valueEnd := len(trimmed)
		for _, other := range hits {
			if other.pos > h.pos && other.pos < valueEnd {
				valueEnd = other.pos
			}
		}

		value := strings.TrimSpace(trimmed[valueStart:valueEnd])
		if h.label.FirstToken {
			if f := strings.Fields(value); len(f) > 0 {
				value = f[0]
			}
		}
		e.SetAttr(h.label.Name, value)
	}
	return true
}
