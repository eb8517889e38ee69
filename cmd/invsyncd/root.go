package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/loader"
	"github.com/xtxerr/invsync/internal/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Output     string // "text" | "json"
}

// validOutputs defines the allowed output formats.
var validOutputs = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "invsyncd",
		Short:         "Network inventory synchronization",
		Long:          "Polls network devices and reconciles what they report against the inventory.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidOutput(opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, validOutputs)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "invsync.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format json|text (overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "text", "output format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newParseCommand(opts))
	cmd.AddCommand(newShellCommand(opts))

	return cmd
}

func isValidOutput(format string) bool {
	for _, f := range validOutputs {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig loads the configuration and initializes logging from it. A
// missing file yields the defaults.
func (o *rootOptions) loadConfig() (*loader.Config, error) {
	cfg, err := loader.Load(o.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loader.DefaultConfig()
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	// Logs go to stderr so command output stays parseable.
	logging.InitWriter(os.Stderr, logging.ParseLevel(cfg.Log.Level), strings.EqualFold(cfg.Log.Format, "json"))

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
