package cli

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/quire/internal/corpus"
	"github.com/mesh-intelligence/quire/internal/paths"
)

var nonSegmentChars = regexp.MustCompile(`[^a-z0-9_]+`)

func newInitCmd(a *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a corpus and its ledger",
		Long: "Create quire.yaml and the features directory at the corpus root, write a\n" +
			"default config.yaml if none exists, then initialize the ledger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInit(cmd, project)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "identifier project segment (default: derived from the root directory name)")
	return cmd
}

func (a *app) runInit(cmd *cobra.Command, project string) error {
	root, err := a.resolveRoot()
	if err != nil {
		return err
	}
	if project == "" {
		project = projectName(filepath.Base(root))
	}

	if _, err := corpus.InitProject(root, project); err != nil {
		return sysError(fmt.Errorf("write project: %w", err))
	}
	p, err := corpus.LoadProject(root)
	if err != nil {
		return userError(err)
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	if _, err := writeConfigIfMissing(configDir, a.flags.dataDir); err != nil {
		return sysError(fmt.Errorf("write config: %w", err))
	}

	// Attach then detach creates the data directory and empty JSONL files.
	backend, err := a.attachLedger(root, p)
	if err != nil {
		return err
	}
	if err := backend.Detach(); err != nil {
		return sysError(fmt.Errorf("finalize ledger: %w", err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized quire corpus %q in %s\n", p.Name, root)
	return nil
}

// projectName turns a directory name into a valid identifier segment.
func projectName(dir string) string {
	name := nonSegmentChars.ReplaceAllString(strings.ToLower(dir), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "project"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}
