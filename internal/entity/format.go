package entity

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Fprint writes an indented, deterministic text rendering of a forest.
//
//	BridgeDomain "10" [object] maxDynamicMac=1000 state=UP
//	  ServiceInstance "GigabitEthernet0/0/1 service instance 10" [object]
//
// Attributes are printed in key order.
func Fprint(w io.Writer, roots []*Entity) error {
	for _, r := range roots {
		var err error
		r.Walk(func(n *Entity, depth int) bool {
			if err != nil {
				return false
			}
			_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), n.line())
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Sprint is Fprint into a string.
func Sprint(roots []*Entity) string {
	var b strings.Builder
	_ = Fprint(&b, roots)
	return b.String()
}

func (e *Entity) line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q [%s]", e.Class, e.Name, e.DataType)

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Attributes[k])
	}
	return b.String()
}
