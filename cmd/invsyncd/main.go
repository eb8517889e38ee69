// invsyncd is the network inventory synchronization daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/xtxerr/invsync/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("invsyncd")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
