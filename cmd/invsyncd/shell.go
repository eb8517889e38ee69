package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/parser"
	"github.com/xtxerr/invsync/internal/validation"
)

func newShellCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive console",
		Long: `Start an interactive console on an in-process job engine.

Groups are run, inspected and controlled without the daemon. Type "help"
for the commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(rootOpts, cmd.OutOrStdout())
		},
	}
}

func runShell(opts *rootOptions, out io.Writer) error {
	if opts.LogLevel == "" {
		opts.LogLevel = "warn"
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.shutdown(context.Background())

	c := newConsole(rt.engine, rt.catalog, out, opts.Output)

	p := prompt.New(
		func(line string) {
			if err := c.exec(line); err != nil {
				fmt.Fprintln(out, "error:", err)
			}
		},
		c.complete,
		prompt.OptionPrefix("invsync> "),
		prompt.OptionTitle("invsyncd shell"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return c.exited }),
	)
	p.Run()
	return nil
}

// =============================================================================
// Console
// =============================================================================

// shellCatalog is what the console needs of the catalog.
type shellCatalog interface {
	Group(name string) (*group.Group, error)
	Groups() []*group.Group
}

type console struct {
	engine  *jobs.Engine
	catalog shellCatalog
	out     io.Writer
	format  string
	exited  bool

	// waitTimeout bounds the wait command.
	waitTimeout time.Duration
}

type command struct {
	name  string
	args  string
	help  string
	run   func(c *console, args []string) error
	nargs int
}

var commands []command

// Set in init: help refers to the table.
func init() {
	commands = []command{
		{name: "help", help: "show this help", run: (*console).help},
		{name: "groups", help: "list configured groups", run: (*console).listGroups},
		{name: "run", args: "<group>", help: "start a sync run", run: (*console).run, nargs: 1},
		{name: "jobs", help: "list jobs", run: (*console).listJobs},
		{name: "job", args: "<id>", help: "show a job and its results", run: (*console).job, nargs: 1},
		{name: "wait", args: "<id>", help: "wait for a job and show it", run: (*console).wait, nargs: 1},
		{name: "kill", args: "<id>", help: "kill a job", run: (*console).kill, nargs: 1},
		{name: "pause", args: "<id>", help: "pause a job", run: (*console).pause, nargs: 1},
		{name: "resume", args: "<id>", help: "resume a paused job", run: (*console).resume, nargs: 1},
		{name: "parse", args: "<family> <file>", help: "parse captured output", run: (*console).parse, nargs: 2},
		{name: "exit", help: "leave the shell", run: (*console).exit},
	}
}

func newConsole(engine *jobs.Engine, catalog shellCatalog, out io.Writer, format string) *console {
	return &console{
		engine:      engine,
		catalog:     catalog,
		out:         out,
		format:      format,
		waitTimeout: 10 * time.Minute,
	}
}

// exec runs one input line.
func (c *console) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	if name == "quit" {
		name = "exit"
	}

	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if len(args) != cmd.nargs {
			return fmt.Errorf("usage: %s %s", cmd.name, cmd.args)
		}
		return cmd.run(c, args)
	}
	return fmt.Errorf("unknown command %q, try help", name)
}

func (c *console) help([]string) error {
	for _, cmd := range commands {
		fmt.Fprintf(c.out, "  %-22s %s\n", strings.TrimSpace(cmd.name+" "+cmd.args), cmd.help)
	}
	return nil
}

func (c *console) listGroups([]string) error {
	table := newTable(c.out, "NAME", "ID", "PROVIDER", "INTERVAL", "SOURCES")
	for _, g := range c.catalog.Groups() {
		interval := "-"
		if g.Interval > 0 {
			interval = g.Interval.String()
		}
		ids := make([]string, len(g.Sources))
		for i, ds := range g.Sources {
			ids[i] = ds.ID
		}
		table.Append([]string{g.Name, strconv.FormatInt(g.ID, 10), g.Provider, interval, strings.Join(ids, ",")})
	}
	table.Render()
	return nil
}

func (c *console) run(args []string) error {
	if err := validation.ValidateGroupName(args[0]); err != nil {
		return err
	}
	g, err := c.catalog.Group(args[0])
	if err != nil {
		return err
	}

	j := jobs.NewSyncJob(g)
	if err := c.engine.Run(j); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "started job %d\n", j.ID())
	return nil
}

func (c *console) listJobs([]string) error {
	list := c.engine.List()
	snaps := make([]jobs.Snapshot, len(list))
	for i, j := range list {
		snaps[i] = j.Snapshot()
	}
	return printJobs(c.out, c.format, snaps)
}

func (c *console) lookup(arg string) (*jobs.Job, error) {
	id, err := validation.ParseJobID(arg)
	if err != nil {
		return nil, err
	}
	return c.engine.Get(id)
}

func (c *console) show(j *jobs.Job) error {
	snap := j.Snapshot()
	snap.Results = j.Result()
	return printJob(c.out, c.format, snap)
}

func (c *console) job(args []string) error {
	j, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	return c.show(j)
}

func (c *console) wait(args []string) error {
	j, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.waitTimeout)
	defer cancel()
	if err := c.engine.Wait(ctx, j); err != nil {
		return err
	}
	return c.show(j)
}

func (c *console) kill(args []string) error {
	j, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	c.engine.Kill(j)
	fmt.Fprintf(c.out, "job %d %s\n", j.ID(), j.Status())
	return nil
}

func (c *console) pause(args []string) error {
	j, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	if err := c.engine.Pause(j); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "job %d %s\n", j.ID(), j.Status())
	return nil
}

func (c *console) resume(args []string) error {
	j, err := c.lookup(args[0])
	if err != nil {
		return err
	}
	if err := c.engine.Resume(j); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "job %d %s\n", j.ID(), j.Status())
	return nil
}

func (c *console) parse(args []string) error {
	p, ok := parser.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown family %q: must be one of %v", args[0], parser.Families())
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	res, err := p.ParseContext(context.Background(), string(data))
	if err != nil {
		return err
	}
	for _, a := range res.Anomalies {
		fmt.Fprintf(c.out, "warning: %s\n", a.Error())
	}
	return printEntities(c.out, c.format, res.Entities)
}

func (c *console) exit([]string) error {
	c.exited = true
	return nil
}

// =============================================================================
// Completion
// =============================================================================

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	return c.suggest(d.TextBeforeCursor(), d.GetWordBeforeCursor())
}

// suggest completes command names, then group names or job ids.
func (c *console) suggest(before, word string) []prompt.Suggest {
	fields := strings.Fields(before)
	if len(fields) == 0 || (len(fields) == 1 && word != "") {
		s := make([]prompt.Suggest, len(commands))
		for i, cmd := range commands {
			s[i] = prompt.Suggest{Text: cmd.name, Description: cmd.help}
		}
		return prompt.FilterHasPrefix(s, word, true)
	}

	var s []prompt.Suggest
	switch fields[0] {
	case "run":
		for _, g := range c.catalog.Groups() {
			s = append(s, prompt.Suggest{Text: g.Name, Description: g.Provider})
		}
	case "job", "wait", "kill", "pause", "resume":
		for _, j := range c.engine.List() {
			snap := j.Snapshot()
			s = append(s, prompt.Suggest{
				Text:        strconv.FormatInt(snap.ID, 10),
				Description: snap.Target + " " + snap.Status.String(),
			})
		}
	case "parse":
		if len(fields) == 1 || (len(fields) == 2 && word != "") {
			for _, f := range parser.Families() {
				s = append(s, prompt.Suggest{Text: f})
			}
		}
	}
	return prompt.FilterHasPrefix(s, word, true)
}
