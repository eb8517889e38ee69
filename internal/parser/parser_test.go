package parser

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/xtxerr/invsync/internal/entity"
)

func render(res Result) []byte {
	var b strings.Builder
	b.WriteString(entity.Sprint(res.Entities))
	b.WriteString("# anomalies\n")
	for _, a := range res.Anomalies {
		b.WriteString(a.Error())
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func TestParse_Golden(t *testing.T) {
	tests := []struct {
		name   string
		family string
	}{
		{"bridge_domain", FamilyBridgeDomain},
		{"vlan_brief", FamilyVLANBrief},
	}

	g := goldie.New(t, goldie.WithFixtureDir(filepath.Join("testdata", "golden")))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := os.ReadFile(filepath.Join("testdata", tt.name+".txt"))
			if err != nil {
				t.Fatalf("read fixture: %v", err)
			}

			p, ok := Lookup(tt.family)
			if !ok {
				t.Fatalf("Lookup(%q) failed", tt.family)
			}

			res, err := p.ParseContext(context.Background(), string(raw))
			if err != nil {
				t.Fatalf("ParseContext() error = %v", err)
			}
			g.Assert(t, tt.name, render(res))
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, family := range Families() {
		p, _ := Lookup(family)
		for _, raw := range []string{"", "\n", "   \n\t\n"} {
			got := p.Parse(raw)
			if got == nil {
				t.Errorf("%s: Parse(%q) returned nil, want empty slice", family, raw)
			}
			if len(got) != 0 {
				t.Errorf("%s: Parse(%q) returned %d entities", family, raw, len(got))
			}
		}
	}
}

func TestParse_RecordWithoutChildren(t *testing.T) {
	p := New(BridgeDomain())

	got := p.Parse("Bridge-domain 7 (0 ports in all)\nState: UP    Mac learning: Enabled\n")
	if len(got) != 1 {
		t.Fatalf("Parse() returned %d entities, want 1", len(got))
	}
	if got[0].NumChildren() != 0 {
		t.Errorf("NumChildren() = %d, want 0", got[0].NumChildren())
	}
	if v, _ := got[0].Attr("state"); v != "UP" {
		t.Errorf("state = %q, want UP", v)
	}
}

func TestParse_TrailingWhitespace(t *testing.T) {
	p := New(BridgeDomain())

	clean := p.Parse("Bridge-domain 7 (1 ports in all)\n    BDI7 (up)\n")
	padded := p.Parse("Bridge-domain 7 (1 ports in all)   \r\n    BDI7 (up)\t \r\n")

	if a, b := entity.Sprint(clean), entity.Sprint(padded); a != b {
		t.Errorf("trailing whitespace changed the result:\n%s\nvs\n%s", a, b)
	}
}

func TestParse_BlankLineEndsRecord(t *testing.T) {
	p := New(BridgeDomain())

	res, err := p.ParseContext(context.Background(), "Bridge-domain 1 (1 ports in all)\n\n    BDI1 (up)\n")
	if err != nil {
		t.Fatalf("ParseContext() error = %v", err)
	}

	if len(res.Entities) != 2 {
		t.Fatalf("got %d entities, want 2", len(res.Entities))
	}
	if res.Entities[0].NumChildren() != 0 {
		t.Error("blank line did not close the first record")
	}
	if res.Entities[1].Class != entity.ClassUnknown {
		t.Errorf("orphan line class = %q, want %q", res.Entities[1].Class, entity.ClassUnknown)
	}
	if len(res.Anomalies) != 1 || res.Anomalies[0].LineNo != 3 {
		t.Errorf("anomalies = %v, want one on line 3", res.Anomalies)
	}
}

func TestParse_DuplicateChildIsAnomaly(t *testing.T) {
	p := New(BridgeDomain())

	res, _ := p.ParseContext(context.Background(),
		"Bridge-domain 1 (2 ports in all)\n    BDI1 (up)\n    bdi1 (down)\n")

	if len(res.Entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(res.Entities))
	}
	if res.Entities[0].NumChildren() != 1 {
		t.Errorf("NumChildren() = %d, want 1", res.Entities[0].NumChildren())
	}
	if len(res.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(res.Anomalies))
	}
	if !strings.Contains(res.Anomalies[0].Reason, "duplicate") {
		t.Errorf("reason = %q, want duplicate", res.Anomalies[0].Reason)
	}
}

// outline renders top-level entities as "Class:name(children)".
func outline(entities []*entity.Entity) string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = fmt.Sprintf("%s:%s(%d)", e.Class, e.Name, e.NumChildren())
	}
	return strings.Join(out, " ")
}

func TestParse_MalformedHeaderEndsRecord(t *testing.T) {
	tests := []struct {
		name      string
		grammar   Grammar
		raw       string
		want      string
		anomalies []string
	}{
		{
			name:      "vlan row without status",
			grammar:   VLANBrief(),
			raw:       "1 default active Gi0/1\n30 guest pending\n",
			want:      "VLAN:default(1) Unknown:30 guest pending(0)",
			anomalies: []string{"2:VLAN row without a known status"},
		},
		{
			name:      "ports after malformed row",
			grammar:   VLANBrief(),
			raw:       "1 default active Gi0/1\n30 guest\n    Gi0/9\n10 Sales active\n",
			want:      "VLAN:default(1) Unknown:30 guest(0) Unknown:gi0/9(0) VLAN:Sales(0)",
			anomalies: []string{"2:VLAN row without a known status", "3:unrecognized line outside record"},
		},
		{
			name:      "unnumbered line stays in record",
			grammar:   VLANBrief(),
			raw:       "1 default active Gi0/1\noops\n",
			want:      "VLAN:default(2)",
			anomalies: []string{"2:unclassified line"},
		},
		{
			name:      "bridge domain without id",
			grammar:   BridgeDomain(),
			raw:       "Bridge-domain 1 (1 ports in all)\n    BDI1 (up)\nBridge-domain\n",
			want:      "BridgeDomain:1(1) Unknown:bridge-domain(0)",
			anomalies: []string{"3:BridgeDomain needs 2 fields, got 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(tt.grammar).ParseContext(context.Background(), tt.raw)
			if err != nil {
				t.Fatalf("ParseContext() error = %v", err)
			}
			if got := outline(res.Entities); got != tt.want {
				t.Errorf("entities = %s, want %s", got, tt.want)
			}

			var got []string
			for _, a := range res.Anomalies {
				got = append(got, fmt.Sprintf("%d:%s", a.LineNo, a.Reason))
			}
			if strings.Join(got, "|") != strings.Join(tt.anomalies, "|") {
				t.Errorf("anomalies = %q, want %q", got, tt.anomalies)
			}
		})
	}
}

func TestParse_DuplicatePortInRowIsAnomaly(t *testing.T) {
	res, err := New(VLANBrief()).ParseContext(context.Background(), "1 default active Gi0/1, Gi0/2, gi0/1\n")
	if err != nil {
		t.Fatalf("ParseContext() error = %v", err)
	}

	if got := outline(res.Entities); got != "VLAN:default(2)" {
		t.Errorf("entities = %s", got)
	}
	if len(res.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(res.Anomalies))
	}
	if a := res.Anomalies[0]; a.LineNo != 1 || !strings.Contains(a.Reason, "duplicate") {
		t.Errorf("anomaly = %v", a)
	}
}

func TestParse_Cancelled(t *testing.T) {
	p := New(VLANBrief())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.ParseContext(ctx, "1 default active\n2 other active\n3 third active\n")
	if err == nil {
		t.Fatal("ParseContext() on cancelled context returned nil error")
	}
	if len(res.Entities) != 1 {
		t.Errorf("got %d entities, want the single record completed before the check", len(res.Entities))
	}
}

type panickyGrammar struct{ vlanGrammar }

func (panickyGrammar) Attach(*entity.Entity, string, []string) (bool, string) {
	panic("boom")
}

func TestParse_GrammarPanicBecomesAnomaly(t *testing.T) {
	p := New(panickyGrammar{})

	res, err := p.ParseContext(context.Background(), "1 default active\n   Gi0/1\n")
	if err != nil {
		t.Fatalf("ParseContext() error = %v", err)
	}
	if len(res.Anomalies) == 0 || !strings.Contains(res.Anomalies[len(res.Anomalies)-1].Reason, "grammar fault") {
		t.Errorf("anomalies = %v, want grammar fault", res.Anomalies)
	}
}

func TestParse_NeverPanics(t *testing.T) {
	tokens := []string{
		"Bridge-domain", "vfi", "BDI", "service", "instance", "State:", "Mac learning:",
		"Aging-Timer:", "Maximum", ":", "(", ")", ",", "VLAN", "----", "active",
		"act/lshut", "10", "0", "Gi0/1,", "\t", "   ", "\x00", "\xff", "ü", "",
	}

	rng := rand.New(rand.NewSource(1))
	for _, family := range Families() {
		p, _ := Lookup(family)
		for i := 0; i < 500; i++ {
			var b strings.Builder
			lines := rng.Intn(12)
			for l := 0; l < lines; l++ {
				if rng.Intn(3) == 0 {
					b.WriteString("    ")
				}
				words := rng.Intn(7)
				for w := 0; w < words; w++ {
					b.WriteString(tokens[rng.Intn(len(tokens))])
					b.WriteString(" ")
				}
				b.WriteString("\n")
			}

			raw := b.String()
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("%s: Parse panicked on %q: %v", family, raw, r)
					}
				}()
				if got := p.Parse(raw); got == nil {
					t.Fatalf("%s: Parse(%q) returned nil", family, raw)
				}
			}()
		}
	}
}

func FuzzParse(f *testing.F) {
	f.Add("Bridge-domain 10 (3 ports in all)\n    BDI10 (up)\nMaximum dynamic MAC addresses: 1000\n")
	f.Add("1 default active Gi0/1\n    Gi0/2\n")
	f.Add("vfi\n\n\nMaximum\n")

	f.Fuzz(func(t *testing.T, raw string) {
		for _, family := range Families() {
			p, _ := Lookup(family)
			if p.Parse(raw) == nil {
				t.Fatalf("%s: nil result", family)
			}
		}
	})
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup("nope"); ok {
		t.Error("Lookup(nope) succeeded")
	}
	p, ok := Lookup(FamilyVLANBrief)
	if !ok {
		t.Fatal("Lookup(vlan-brief) failed")
	}
	if p.Command() != "show vlan brief" {
		t.Errorf("Command() = %q", p.Command())
	}
}

func TestExtractLabels(t *testing.T) {
	e := entity.New("X", "x", entity.DataTypeObject)
	labels := []AttrLabel{
		{Label: "A", Name: "a"},
		{Label: "B b", Name: "b", FirstToken: true},
	}

	if ExtractLabels(e, "  noise A: 1", labels) {
		t.Error("ExtractLabels matched a line not starting with a label")
	}
	if !ExtractLabels(e, "A: one two   B b: 3 sec", labels) {
		t.Fatal("ExtractLabels did not match")
	}
	if v, _ := e.Attr("a"); v != "one two" {
		t.Errorf("a = %q, want %q", v, "one two")
	}
	if v, _ := e.Attr("b"); v != "3" {
		t.Errorf("b = %q, want 3", v)
	}
}
