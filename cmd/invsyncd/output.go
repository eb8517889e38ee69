package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/reconcile"
)

var typeColors = map[reconcile.Type]*color.Color{
	reconcile.TypeCreate:   color.New(color.FgGreen),
	reconcile.TypeUpdate:   color.New(color.FgYellow),
	reconcile.TypeDelete:   color.New(color.FgRed),
	reconcile.TypeNoChange: color.New(color.Faint),
	reconcile.TypeError:    color.New(color.FgRed, color.Bold),
}

func colorType(t reconcile.Type) string {
	if c, ok := typeColors[t]; ok {
		return c.Sprint(string(t))
	}
	return string(t)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// printJob prints one job and its results.
func printJob(out io.Writer, format string, snap jobs.Snapshot) error {
	if format == "json" {
		return writeJSON(out, snap)
	}

	fmt.Fprintf(out, "job %d  %s  %s  %s  %s\n", snap.ID, snap.Tag, snap.Target, snap.Status, snap.Duration().Round(time.Millisecond))
	if c := snap.Captured; c != nil {
		fmt.Fprintf(out, "aborted: %s\n", c.Error())
		return nil
	}
	if len(snap.Results) == 0 {
		return nil
	}

	table := newTable(out, "RESULT", "CLASS", "NAME", "OBJECT", "SOURCE", "DETAIL")
	for _, r := range snap.Results {
		object := ""
		if r.ObjectID != 0 {
			object = strconv.FormatInt(r.ObjectID, 10)
		}
		table.Append([]string{colorType(r.Type), r.Class, r.Name, object, r.Source, detail(r)})
	}
	table.Render()

	if s := snap.Stats; s != nil {
		fmt.Fprintf(out, "%d create, %d update, %d delete, %d unchanged, %d errors\n",
			s.Creates, s.Updates, s.Deletes, s.Unchanged, s.Errors)
	}
	return nil
}

// detail is the proposed attributes of a change, or the message.
func detail(r reconcile.SyncResult) string {
	if len(r.Proposed) == 0 {
		return r.Message
	}
	keys := make([]string, 0, len(r.Proposed))
	for k := range r.Proposed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r.Proposed[k]
	}
	return strings.Join(parts, " ")
}

// printJobs prints a job list without results.
func printJobs(out io.Writer, format string, snaps []jobs.Snapshot) error {
	if format == "json" {
		return writeJSON(out, snaps)
	}

	table := newTable(out, "ID", "TAG", "GROUP", "TARGET", "STATUS", "PROGRESS", "MESSAGE")
	for _, s := range snaps {
		table.Append([]string{
			strconv.FormatInt(s.ID, 10),
			s.Tag,
			s.Params.Default(jobs.ParamGroup, "-"),
			s.Target,
			s.Status.String(),
			strconv.Itoa(s.Percent) + "%",
			s.Message,
		})
	}
	table.Render()
	return nil
}

// entityView is the JSON form of a parsed entity tree.
type entityView struct {
	Class      string            `json:"class"`
	Name       string            `json:"name"`
	DataType   string            `json:"dataType"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []entityView      `json:"children,omitempty"`
}

func viewOf(e *entity.Entity) entityView {
	v := entityView{
		Class:      e.Class,
		Name:       e.Name,
		DataType:   e.DataType.String(),
		Attributes: e.Attributes,
	}
	for _, c := range e.Children() {
		v.Children = append(v.Children, viewOf(c))
	}
	return v
}

// printEntities prints parsed entity trees, one indented line per entity.
func printEntities(out io.Writer, format string, roots []*entity.Entity) error {
	if format == "json" {
		views := make([]entityView, len(roots))
		for i, e := range roots {
			views[i] = viewOf(e)
		}
		return writeJSON(out, views)
	}

	for _, root := range roots {
		root.Walk(func(n *entity.Entity, depth int) bool {
			fmt.Fprintf(out, "%s%s %q", strings.Repeat("  ", depth), n.Class, n.Name)
			if attrs := formatAttrs(n.Attributes); attrs != "" {
				fmt.Fprintf(out, " %s", attrs)
			}
			fmt.Fprintln(out)
			return true
		})
	}
	fmt.Fprintf(out, "%d entities\n", entity.Count(roots))
	return nil
}

func formatAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	return detail(reconcile.SyncResult{Proposed: attrs})
}
