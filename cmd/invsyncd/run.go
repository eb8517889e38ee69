package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/provider/cli"
	"github.com/xtxerr/invsync/internal/validation"
)

type runOptions struct {
	*rootOptions
	Provider string
	Sources  string
	Target   string
	Timeout  time.Duration
	Prompt   bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [group]",
		Short: "Synchronize one group and print the results",
		Long: `Synchronize a configured group, or an ad-hoc selection of data sources,
once and print the reconciliation results. Nothing is written to the
inventory.

Example:
  invsyncd run access
  invsyncd run --provider cisco-bridge-domain-ssh --sources pe1,pe2 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runOnce(cmd.Context(), opts, name, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Provider, "provider", "", "provider id for an ad-hoc run")
	cmd.Flags().StringVar(&opts.Sources, "sources", "", "comma separated data source ids for an ad-hoc run")
	cmd.Flags().StringVar(&opts.Target, "target", "", "admission target for an ad-hoc run (default: the sources' inventory scopes)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Minute, "give up waiting after this long")
	cmd.Flags().BoolVar(&opts.Prompt, "ask-password", true, "prompt for passwords missing from the config")

	return cmd
}

// buildJob returns the job for a group name or the ad-hoc flags, and the
// data sources it will poll.
func (o *runOptions) buildJob(catalog jobs.Catalog, name string) (*jobs.Job, []*group.DataSource, error) {
	switch {
	case name != "" && o.Sources != "":
		return nil, nil, fmt.Errorf("a group and --sources are mutually exclusive")

	case name != "":
		if err := validation.ValidateGroupName(name); err != nil {
			return nil, nil, err
		}
		g, err := catalog.Group(name)
		if err != nil {
			return nil, nil, err
		}
		return jobs.NewSyncJob(g), g.Sources, nil

	case o.Sources != "":
		if o.Provider == "" {
			return nil, nil, fmt.Errorf("--provider is required with --sources")
		}
		ids, err := validation.ParseSourceList(o.Sources)
		if err != nil {
			return nil, nil, err
		}
		sources := make([]*group.DataSource, 0, len(ids))
		for _, id := range ids {
			ds, err := catalog.DataSource(id)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, ds)
		}
		return jobs.NewAdHocSyncJob(o.Target, o.Provider, sources...), sources, nil

	default:
		return nil, nil, fmt.Errorf("a group or --sources is required")
	}
}

func runOnce(ctx context.Context, opts *runOptions, name string, in io.Reader, out io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.shutdown(context.Background())

	j, sources, err := opts.buildJob(rt.catalog, name)
	if err != nil {
		return err
	}
	if opts.Prompt {
		if err := askPasswords(sources, in, out); err != nil {
			return err
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := rt.engine.Run(j); err != nil {
		return err
	}
	if err := rt.engine.Wait(ctx, j); err != nil {
		rt.engine.Kill(j)
		return fmt.Errorf("waiting for %s: %w", j, err)
	}

	snap := j.Snapshot()
	snap.Results = j.Result()
	if err := printJob(out, opts.Output, snap); err != nil {
		return err
	}
	if c := snap.Captured; c != nil {
		return errors.Wrap(c, "sync aborted")
	}
	return nil
}

// askPasswords prompts for the password of every source whose options
// name a username but no password. It does nothing unless in is a
// terminal.
func askPasswords(sources []*group.DataSource, in io.Reader, out io.Writer) error {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}

	asked := make(map[string]string)
	for _, ds := range sources {
		if ds.Options[cli.OptUsername] == "" || ds.Options[cli.OptPassword] != "" {
			continue
		}
		// Sources sharing credentials are asked once.
		key := ds.Credentials
		if key == "" {
			key = "source:" + ds.ID
		}
		if pw, ok := asked[key]; ok {
			ds.Options[cli.OptPassword] = pw
			continue
		}

		fmt.Fprintf(out, "Password for %s@%s: ", ds.Options[cli.OptUsername], ds.ID)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		asked[key] = string(pw)
		ds.Options[cli.OptPassword] = string(pw)
	}
	return nil
}
