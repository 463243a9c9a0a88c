package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/anastrophex/internal/directives"
	"github.com/HendryAvila/anastrophex/internal/patterns"
)

func (c *cli) newPatternsCmd() *cobra.Command {
	var directivesFile string
	cmd := &cobra.Command{
		Use:   "patterns [file]",
		Short: "Validate a pattern catalogue and list its patterns",
		Long: `Loads a pattern catalogue, reports any validation problem and lists
the patterns it defines with the directive each one resolves to. Without a
file the built-in catalogue is listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			reg, err := loadRegistry(path)
			if err != nil {
				return err
			}
			var doc *directives.Document
			if directivesFile != "" {
				if doc, err = directives.Load(directivesFile); err != nil {
					return err
				}
			}
			return printPatterns(cmd.OutOrStdout(), reg, directives.Resolve(reg, doc))
		},
	}
	cmd.Flags().StringVar(&directivesFile, "directives", "", "markdown directive document to resolve against")
	return cmd
}

func printPatterns(out io.Writer, reg *patterns.Registry, set *directives.Set) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCOOLDOWN\tDIRECTIVE")
	for _, def := range reg.All() {
		origin := "-"
		if d, ok := set.Get(def.ID); ok {
			origin = d.Origin
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.ID, def.Rule.Kind, def.Cooldown, origin)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d patterns from %s\n", reg.Len(), reg.Source())
	for _, id := range set.Unmatched() {
		fmt.Fprintf(out, "warning: directive section %q matches no pattern\n", id)
	}
	return nil
}
