package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agenttown/core"
)

func newPersonalitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personalities",
		Short: "List the built-in personality templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRISK\tSOCIAL\tCURIOUS\tTRAITS")
			for _, name := range core.PersonalityTemplates() {
				p, _ := core.PersonalityTemplate(name)
				fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%s\n", name, p.RiskTolerance, p.Sociability, p.Curiosity, strings.Join(p.Traits, ", "))
			}
			return tw.Flush()
		},
	}
}
