package parser

import (
	"strings"

	"github.com/xtxerr/invsync/internal/entity"
)

// FamilyVLANBrief parses "show vlan brief" output:
//
//	VLAN Name                             Status    Ports
//	---- -------------------------------- --------- -------------------------------
//	1    default                          active    Gi0/1, Gi0/2
//	10   Sales Floor                      active    Gi0/3, Gi0/4,
//	                                                Gi0/5
//	20   voice                            act/lshut
//
// Each row opens a VLAN record; ports become Port children, including
// those wrapped onto continuation lines. A numbered row without a status
// ends the previous VLAN and is kept as an Unknown entity.
const FamilyVLANBrief = "vlan-brief"

// Inventory classes produced by the VLAN grammar.
const (
	ClassVLAN = "VLAN"
	ClassPort = "Port"
)

// vlanStatuses anchors the end of a row's name. VLAN names may contain
// whitespace, so the name is every field between the id and the first
// status token.
var vlanStatuses = map[string]bool{
	"active":     true,
	"suspended":  true,
	"act/lshut":  true,
	"sus/lshut":  true,
	"act/ishut":  true,
	"sus/ishut":  true,
	"act/unsup":  true,
	"act/noshut": true,
}

// vlanRow is the column contract of a row: one leading id field, a
// whitespace-joined name of at least one field, one status field, and
// optional port list fields.
const (
	vlanIDFields     = 1
	vlanMinNameWords = 1
)

type vlanGrammar struct{}

// VLANBrief returns the grammar for "show vlan brief".
func VLANBrief() Grammar {
	return vlanGrammar{}
}

func (vlanGrammar) Family() string  { return FamilyVLANBrief }
func (vlanGrammar) Command() string { return "show vlan brief" }

// Open treats every unindented line starting with a VLAN id as a row. A row
// without a known status token is malformed.
func (vlanGrammar) Open(line string, fields []string) (*entity.Entity, bool, string) {
	if line == "" || line[0] == ' ' || line[0] == '\t' {
		return nil, false, ""
	}
	if !isDigits(fields[0]) {
		return nil, false, ""
	}

	status := -1
	for i := vlanIDFields + vlanMinNameWords; i < len(fields); i++ {
		if vlanStatuses[strings.ToLower(fields[i])] {
			status = i
			break
		}
	}
	if status < 0 {
		return nil, true, "VLAN row without a known status"
	}

	name := strings.Join(fields[vlanIDFields:status], " ")
	e := entity.New(ClassVLAN, name, entity.DataTypeObject)
	e.SetAttr("vlanId", fields[0])
	e.SetAttr("status", strings.ToLower(fields[status]))

	return e, true, addPorts(e, fields[status+1:])
}

func (vlanGrammar) Skip(line string, fields []string) bool {
	if strings.EqualFold(fields[0], "VLAN") {
		return true
	}
	return strings.Trim(line, "- ") == ""
}

func (vlanGrammar) Boundary(*entity.Entity, string, []string) bool {
	return false
}

func (vlanGrammar) Attach(rec *entity.Entity, line string, fields []string) (bool, string) {
	// Continuation lines are indented port lists.
	if line[0] != ' ' && line[0] != '\t' {
		return false, ""
	}

	return true, addPorts(rec, fields)
}

// addPorts attaches the ports listed in fields and returns the duplicates
// as an anomaly reason.
func addPorts(rec *entity.Entity, fields []string) string {
	var reasons []string
	for _, port := range splitPorts(fields) {
		if err := rec.AddChild(entity.New(ClassPort, port, entity.DataTypeReference)); err != nil {
			reasons = append(reasons, err.Error())
		}
	}
	return strings.Join(reasons, "; ")
}

func splitPorts(fields []string) []string {
	var ports []string
	for _, p := range strings.Split(strings.Join(fields, ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
