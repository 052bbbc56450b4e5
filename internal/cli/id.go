package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/pkg/types"
)

func newIDCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Work with design identifiers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "parse <identifier>",
		Short: "Parse an identifier and print its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseIdentifier(args[0])
			if err != nil {
				return userError(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, id)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "project\t%s\n", id.Project)
			fmt.Fprintf(tw, "scope\t%s\n", id.Scope)
			fmt.Fprintf(tw, "scope name\t%s\n", id.ScopeName)
			fmt.Fprintf(tw, "kind\t%s\n", id.Kind)
			fmt.Fprintf(tw, "local name\t%s\n", id.LocalName)
			if id.Phase > 0 {
				fmt.Fprintf(tw, "phase\t%d\n", id.Phase)
			}
			if id.Instruction != "" {
				fmt.Fprintf(tw, "instruction\t%s\n", id.Instruction)
			}
			fmt.Fprintf(tw, "entity\t%s\n", id.Base())
			return tw.Flush()
		},
	})
	return cmd
}
