package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/corpus"
	"github.com/mesh-intelligence/quire/pkg/types"
)

func newSpecCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Inspect feature specs",
	}
	cmd.AddCommand(newSpecShowCmd(a), newSpecHistoryCmd(a))
	return cmd
}

// specView is the JSON form of a spec.
type specView struct {
	Name         string              `json:"name"`
	Version      uint64              `json:"version"`
	Requirements []types.Requirement `json:"requirements"`
}

func newSpecShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <feature>",
		Short: "Print the current spec of a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCorpus()
			if err != nil {
				return err
			}
			f, err := c.Feature(args[0])
			if err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, specView{Name: f.Spec.Name, Version: f.Spec.Version, Requirements: f.Spec.Requirements()})
			}
			fmt.Fprint(cmd.OutOrStdout(), f.Spec.Serialize())
			return nil
		},
	}
}

func newSpecHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <feature>",
		Short: "List the recorded versions of a feature spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.resolveRoot()
			if err != nil {
				return err
			}
			project, err := corpus.LoadProject(root)
			if err != nil {
				return userError(err)
			}
			backend, err := a.attachLedger(root, project)
			if err != nil {
				return err
			}
			defer backend.Detach()

			table, err := backend.GetTable(types.SpecHistoryTable)
			if err != nil {
				return sysError(err)
			}
			filter := types.Filter{"name": args[0]}
			if limit > 0 {
				filter["limit"] = limit
			}
			results, err := table.Fetch(filter)
			if err != nil {
				return classify(err)
			}
			entries := make([]*types.SpecHistoryEntry, 0, len(results))
			for _, r := range results {
				entries = append(entries, r.(*types.SpecHistoryEntry))
			}

			if a.flags.jsonMode {
				return writeJSON(cmd, entries)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no recorded versions of %s\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tCHANGE\tRECORDED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Version, e.ChangeID, e.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many versions")
	return cmd
}
