package builtin

import (
	"testing"

	"github.com/xtxerr/invsync/internal/provider/cli"
	"github.com/xtxerr/invsync/internal/provider/snmp"
)

func TestDefault(t *testing.T) {
	r := Default()

	want := map[string]string{
		cli.IDBridgeDomain: cli.Family,
		cli.IDVLAN:         cli.Family,
		snmp.IDIfMIB:       snmp.Family,
	}
	if len(r.IDs()) != len(want) {
		t.Errorf("IDs() = %v", r.IDs())
	}
	for id, family := range want {
		if got, ok := r.Family(id); !ok || got != family {
			t.Errorf("Family(%s) = %q, %v; want %q", id, got, ok, family)
		}
	}
}
