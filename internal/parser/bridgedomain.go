package parser

import (
	"strings"

	"github.com/xtxerr/invsync/internal/entity"
)

// FamilyBridgeDomain parses "show bridge-domain" output (ASR920/ME3600
// style):
//
//	Bridge-domain 10 (3 ports in all)
//	State: UP                    Mac learning: Enabled
//	Aging-Timer: 300 second(s)
//	    BDI10 (up)
//	    GigabitEthernet0/0/1 service instance 10
//	    vfi VPLS-10 neighbor 10.0.0.2 10
//	Maximum dynamic MAC addresses: 1000
//	   AED MAC address    Policy  Tag       Age  Pseudoport
//	   -   0000.0c07.ac0a forward dynamic   300  GigabitEthernet0/0/1.EFP10
//
// The "Maximum" line closes the record; the MAC table after it is record
// tail and carries no inventory data.
const FamilyBridgeDomain = "bridge-domain"

// Inventory classes produced by the bridge-domain grammar.
const (
	ClassBridgeDomain          = "BridgeDomain"
	ClassBridgeDomainInterface = "BridgeDomainInterface"
	ClassServiceInstance       = "ServiceInstance"
	ClassVFI                   = "VFI"
	ClassPseudowire            = "Pseudowire"
)

var bridgeDomainHeader = Marker{
	Kind:       MatchWord,
	Token:      "Bridge-domain",
	Class:      ClassBridgeDomain,
	DataType:   entity.DataTypeObject,
	NameFrom:   1,
	NameFields: 1,
	Attrs: func(e *entity.Entity, fields []string) {
		// "(3 ports in all)"
		if len(fields) > 2 && strings.HasPrefix(fields[2], "(") {
			e.SetAttr("portCount", strings.TrimPrefix(fields[2], "("))
		}
	},
}

var bridgeDomainLabels = []AttrLabel{
	{Label: "State", Name: "state"},
	{Label: "Mac learning", Name: "macLearning"},
	{Label: "Aging-Timer", Name: "agingTimer", FirstToken: true},
}

var bridgeDomainChildren = Classifier{
	{
		Kind:       MatchPrefix,
		Token:      "BDI",
		Class:      ClassBridgeDomainInterface,
		DataType:   entity.DataTypeObject,
		NameFrom:   0,
		NameFields: 1,
		Attrs: func(e *entity.Entity, fields []string) {
			if len(fields) > 1 {
				e.SetAttr("state", strings.Trim(fields[1], "()"))
			}
		},
	},
	{
		// "GigabitEthernet0/0/1 service instance 10"
		Kind:       MatchContains,
		Token:      " service instance ",
		Class:      ClassServiceInstance,
		DataType:   entity.DataTypeObject,
		NameFrom:   0,
		NameFields: 4,
		Attrs: func(e *entity.Entity, fields []string) {
			e.SetAttr("interface", fields[0])
			e.SetAttr("instanceId", fields[3])
		},
	},
	{
		// "vfi VPLS-10 neighbor 10.0.0.2 10"
		Kind:       MatchWord,
		Token:      "vfi",
		Class:      ClassVFI,
		DataType:   entity.DataTypeObject,
		NameFrom:   1,
		NameFields: 1,
		Attrs: func(e *entity.Entity, fields []string) {
			if len(fields) > 3 && strings.EqualFold(fields[2], "neighbor") {
				e.SetAttr("neighbor", fields[3])
			}
		},
	},
	{
		Kind:       MatchPrefix,
		Token:      "pseudowire",
		Class:      ClassPseudowire,
		DataType:   entity.DataTypeReference,
		NameFrom:   0,
		NameFields: 1,
	},
}

type bridgeDomainGrammar struct{}

// BridgeDomain returns the grammar for "show bridge-domain".
func BridgeDomain() Grammar {
	return bridgeDomainGrammar{}
}

func (bridgeDomainGrammar) Family() string  { return FamilyBridgeDomain }
func (bridgeDomainGrammar) Command() string { return "show bridge-domain" }

func (bridgeDomainGrammar) Open(line string, fields []string) (*entity.Entity, bool, string) {
	if !bridgeDomainHeader.Match(line, fields) {
		return nil, false, ""
	}
	e, err := bridgeDomainHeader.Build(fields)
	if err != nil {
		return nil, true, err.Error()
	}
	return e, true, ""
}

func (bridgeDomainGrammar) Skip(string, []string) bool {
	return false
}

func (bridgeDomainGrammar) Boundary(rec *entity.Entity, line string, fields []string) bool {
	if !strings.EqualFold(fields[0], "Maximum") {
		return false
	}
	if i := strings.LastIndex(line, ":"); i >= 0 {
		if v := strings.Fields(line[i+1:]); len(v) > 0 {
			rec.SetAttr("maxDynamicMac", v[0])
		}
	}
	return true
}

func (bridgeDomainGrammar) Attach(rec *entity.Entity, line string, fields []string) (bool, string) {
	if ExtractLabels(rec, line, bridgeDomainLabels) {
		return true, ""
	}
	return bridgeDomainChildren.Attach(rec, line, fields)
}
