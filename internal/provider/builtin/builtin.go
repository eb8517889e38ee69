// Package builtin assembles the provider registry shipped with invsync.
package builtin

import (
	"github.com/xtxerr/invsync/internal/provider"
	"github.com/xtxerr/invsync/internal/provider/cli"
	"github.com/xtxerr/invsync/internal/provider/snmp"
)

// Default returns a registry with every built-in provider on its real
// transport.
func Default() *provider.Registry {
	r, err := New(cli.SSHDialer{}, snmp.Connect)
	if err != nil {
		panic(err)
	}
	return r
}

// New returns a registry with every built-in provider using the given
// transports.
func New(d cli.Dialer, c snmp.Connector) (*provider.Registry, error) {
	r := provider.NewRegistry()
	if err := cli.Register(r, d); err != nil {
		return nil, err
	}
	if err := snmp.Register(r, c); err != nil {
		return nil, err
	}
	return r, nil
}
