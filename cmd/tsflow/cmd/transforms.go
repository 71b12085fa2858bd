package cmd

import (
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/polarsignals/tsflow/transform"
)

func newTransformsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List the available transforms and their parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Transform", "Parameters"})
			for _, kind := range transform.Kinds {
				table.Append([]string{string(kind), strings.Join(transform.AllowedParams(kind), ", ")})
			}
			table.Render()
			return nil
		},
	}
}
