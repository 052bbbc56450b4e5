package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/corpus"
	"github.com/mesh-intelligence/quire/internal/trace"
)

func newCoverageCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage <feature>",
		Short: "Show traceability coverage of a feature's identifiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadCorpus()
			if err != nil {
				return err
			}
			if _, err := c.Feature(args[0]); err != nil {
				return classify(err)
			}
			res, err := c.Validate(cmd.Context())
			if err != nil {
				return classify(err)
			}
			cov := res.Coverage[args[0]]
			if cov == nil {
				return userError(fmt.Errorf("%s: %w", args[0], corpus.ErrFeatureNotFound))
			}
			if a.flags.jsonMode {
				return writeJSON(cmd, cov)
			}
			writeCoverage(cmd, cov)
			return nil
		},
	}
}

func writeCoverage(cmd *cobra.Command, cov *trace.Report) {
	out := cmd.OutOrStdout()
	if len(cov.Identifiers) == 0 {
		fmt.Fprintln(out, "no identifiers declared")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLASS\tSTATUS\tPHASES")
	for _, ic := range cov.Identifiers {
		phases := make([]string, len(ic.Phases))
		for i, pc := range ic.Phases {
			name := "unphased"
			if pc.Phase > 0 {
				name = fmt.Sprintf("ph-%d", pc.Phase)
			}
			phases[i] = fmt.Sprintf("%s=%s(%d)", name, pc.Class, pc.Matches)
		}
		status := string(ic.Status)
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ic.ID, ic.Class, status, strings.Join(phases, " "))
	}
	tw.Flush()
	if n := len(cov.Violations); n > 0 {
		fmt.Fprintf(out, "\n%d traceability violation(s):\n", n)
		writeViolations(out, cov.Violations)
	}
}
