package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Manage requirement status markers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Set requirement statuses from traceability coverage",
		Long: "Rewrite the status of every identified requirement, in spec.md and\n" +
			"design.md, to IMPLEMENTED when covered, IN_PROGRESS when partially\n" +
			"covered and NOT_STARTED otherwise.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCorpus()
			if err != nil {
				return err
			}
			updates, err := c.SyncStatus(cmd.Context())
			if err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, updates)
			}
			out := cmd.OutOrStdout()
			if len(updates) == 0 {
				fmt.Fprintln(out, "statuses already in sync")
				return nil
			}
			for _, u := range updates {
				fmt.Fprintf(out, "%s: %s (%s) %s -> %s\n", u.Feature, u.Requirement, u.ID, u.From, u.To)
			}
			return nil
		},
	})
	return cmd
}
