package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/graph"
	"github.com/mesh-intelligence/quire/pkg/types"
)

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <feature> <change>",
		Short: "Apply a change's delta batch to its feature spec",
		Long: "Apply every delta of the change in order. The batch is all-or-nothing:\n" +
			"on the first conflict nothing is written. <change> is the change id or\n" +
			"its directory name.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, detach, err := a.openCorpus()
			if err != nil {
				return err
			}
			defer detach()

			res, err := c.Apply(cmd.Context(), args[0], args[1])
			if err != nil {
				var conflict *types.ConflictError
				if errors.As(err, &conflict) {
					return userError(fmt.Errorf("batch rejected: %w", err))
				}
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d delta(s) from %s: %s is now at version %d\n",
				res.Applied, res.ChangeID, res.Feature, res.Version)
			return nil
		},
	}
}

func newCompleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <feature> <change>",
		Short: "Mark a change COMPLETED once its preconditions hold",
		Long: "A change completes when its dependencies are completed, its tasks are\n" +
			"checked, its batch was accepted and every requirement it implements is\n" +
			"covered by traceability tags on every declared phase.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, detach, err := a.openCorpus()
			if err != nil {
				return err
			}
			defer detach()

			err = c.Complete(cmd.Context(), args[0], args[1])
			var blocked *graph.BlockedError
			if errors.As(err, &blocked) {
				if a.flags.jsonMode {
					if err := writeJSON(cmd, blocked); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "cannot complete %s:\n", blocked.ChangeID)
					writeViolations(cmd.OutOrStdout(), blocked.Violations)
				}
				return reported(err)
			}
			if err != nil {
				return classify(err)
			}
			_, cd, err := c.Change(args[0], args[1])
			if err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, map[string]string{"change_id": cd.ID, "status": string(cd.Status)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed %s\n", cd.ID)
			return nil
		},
	}
}
