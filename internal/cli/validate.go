package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/corpus"
)

func newValidateCmd(a *app) *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the change graph and traceability of the corpus",
		Long: "Check every feature: document structure, identifier uniqueness, tag\n" +
			"coverage and the change graph. Exits 1 when violations are found.\n" +
			"With --watch, validate again after every change until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return a.runWatch(cmd, debounce)
			}
			return a.runValidate(cmd)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-validate whenever the corpus changes")
	cmd.Flags().DurationVar(&debounce, "debounce", corpus.DefaultDebounce, "quiet period before re-validating in watch mode")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command) error {
	c, err := a.loadCorpus()
	if err != nil {
		return err
	}
	res, err := c.Validate(cmd.Context())
	if err != nil {
		return classify(err)
	}
	if err := a.writeResult(cmd, c, res); err != nil {
		return err
	}
	if !res.OK() {
		return reported(errViolations)
	}
	return nil
}

func (a *app) runWatch(cmd *cobra.Command, debounce time.Duration) error {
	root, err := a.resolveRoot()
	if err != nil {
		return err
	}
	err = corpus.Watch(cmd.Context(), root, corpus.Options{Logger: a.logger}, debounce,
		func(c *corpus.Corpus, res *corpus.Result, err error) {
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "quire:", err)
				return
			}
			if !a.flags.jsonMode {
				fmt.Fprintf(cmd.OutOrStdout(), "--- %s\n", time.Now().Format(time.TimeOnly))
			}
			_ = a.writeResult(cmd, c, res)
		})
	return classify(err)
}

func (a *app) writeResult(cmd *cobra.Command, c *corpus.Corpus, res *corpus.Result) error {
	if a.flags.jsonMode {
		return writeJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	writeViolations(out, res.Violations)
	if res.OK() {
		fmt.Fprintf(out, "ok: %d feature(s), %d file(s) scanned\n", len(c.Features()), res.FilesScanned)
		return nil
	}
	fmt.Fprintf(out, "%d violation(s) in %d feature(s), %d file(s) scanned\n",
		len(res.Violations), len(c.Features()), res.FilesScanned)
	return nil
}
