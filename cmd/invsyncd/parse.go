package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtxerr/invsync/internal/parser"
)

type parseOptions struct {
	*rootOptions
	Family string
}

func newParseCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &parseOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "parse --family <family> <file|->",
		Short: "Parse captured device output",
		Long: `Parse captured CLI output offline and print the entity tree.

Families: ` + strings.Join(parser.Families(), ", ") + `

Example:
  invsyncd parse --family bridge-domain show-bd.txt
  ssh pe1 show bridge-domain | invsyncd parse --family bridge-domain -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Family, "family", "f", "", "parser family (required)")
	_ = cmd.MarkFlagRequired("family")

	return cmd
}

func runParse(ctx context.Context, opts *parseOptions, path string, stdin io.Reader, out, errOut io.Writer) error {
	p, ok := parser.Lookup(opts.Family)
	if !ok {
		return fmt.Errorf("unknown family %q: must be one of %v", opts.Family, parser.Families())
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	res, err := p.ParseContext(ctx, string(data))
	if err != nil {
		return err
	}

	for _, a := range res.Anomalies {
		fmt.Fprintf(errOut, "warning: %s\n", a.Error())
	}
	return printEntities(out, opts.Output, res.Entities)
}
