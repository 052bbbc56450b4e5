// Package cli implements the quire command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/quire/internal/corpus"
	"github.com/mesh-intelligence/quire/internal/logging"
	"github.com/mesh-intelligence/quire/internal/paths"
	"github.com/mesh-intelligence/quire/internal/sqlite"
	"github.com/mesh-intelligence/quire/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	root      string
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
}

// app is the state shared by the subcommands of one root command.
type app struct {
	flags  rootFlags
	config *viper.Viper
	logger *zap.Logger
}

// NewRootCmd creates the top-level "quire" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "quire",
		Short: "Versioned specification corpus engine",
		Long: "Quire keeps feature specs, their change batches and the code that\n" +
			"implements them consistent: it applies delta batches, validates the\n" +
			"change graph and verifies traceability tags.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.root, "root", "", "corpus root (default: $QUIRE_ROOT or the working directory)")
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $QUIRE_CONFIG_DIR or the user config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "ledger directory (default: <root>/.quire-db)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newValidateCmd(a),
		newApplyCmd(a),
		newCompleteCmd(a),
		newCoverageCmd(a),
		newStatusCmd(a),
		newSpecCmd(a),
		newIDCmd(a),
	)
	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, NewRootCmd())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitSuccess
	}
	var ce *codeError
	if !errors.As(err, &ce) || !ce.quiet {
		fmt.Fprintln(root.ErrOrStderr(), "quire:", err)
	}
	return exitCodeOf(err)
}

// setup loads config.yaml and builds the logger before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return userError(err)
	}
	a.config = cfg

	level := a.flags.logLevel
	if level == "" {
		level = cfg.GetString(cfgKeyLogLevel)
	}
	logger, err := logging.New(level, cfg.GetBool(cfgKeyLogJSON))
	if err != nil {
		return userError(err)
	}
	a.logger = logger
	return nil
}

// resolveRoot returns the absolute corpus root.
func (a *app) resolveRoot() (string, error) {
	root, err := paths.ResolveRoot(a.flags.root)
	if err != nil {
		return "", sysError(fmt.Errorf("resolve root: %w", err))
	}
	return root, nil
}

// resolveDataDir applies --data-dir > config.yaml data_dir > quire.yaml
// data_dir > QUIRE_DATA_DIR > <root>/.quire-db.
func (a *app) resolveDataDir(root string, project corpus.Project) (string, error) {
	configured := ""
	if a.config != nil {
		configured = a.config.GetString(cfgKeyDataDir)
	}
	if configured == "" {
		configured = project.DataDir
	}
	dir, err := paths.ResolveDataDir(a.flags.dataDir, configured, root)
	if err != nil {
		return "", sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	return dir, nil
}

// loadCorpus loads the corpus at the resolved root without a ledger.
func (a *app) loadCorpus() (*corpus.Corpus, error) {
	root, err := a.resolveRoot()
	if err != nil {
		return nil, err
	}
	c, err := corpus.Load(root, corpus.Options{Logger: a.logger})
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

// openCorpus loads the corpus with an attached ledger. The caller must
// call the returned detach function.
func (a *app) openCorpus() (*corpus.Corpus, func(), error) {
	root, err := a.resolveRoot()
	if err != nil {
		return nil, nil, err
	}
	project, err := corpus.LoadProject(root)
	if err != nil {
		return nil, nil, userError(err)
	}
	backend, err := a.attachLedger(root, project)
	if err != nil {
		return nil, nil, err
	}
	detach := func() {
		if err := backend.Detach(); err != nil {
			a.logger.Warn("detaching ledger", zap.Error(err))
		}
	}
	c, err := corpus.Load(root, corpus.Options{Logger: a.logger, Ledger: backend})
	if err != nil {
		detach()
		return nil, nil, classify(err)
	}
	return c, detach, nil
}

// attachLedger resolves the data directory and attaches a SQLite backend
// to it.
func (a *app) attachLedger(root string, project corpus.Project) (*sqlite.Backend, error) {
	dataDir, err := a.resolveDataDir(root, project)
	if err != nil {
		return nil, err
	}
	backend := sqlite.NewBackend()
	if err := backend.Attach(types.Config{Backend: a.backendName(), DataDir: dataDir}); err != nil {
		if errors.Is(err, types.ErrBackendUnknown) || errors.Is(err, types.ErrBackendEmpty) {
			return nil, userError(fmt.Errorf("attach ledger: %w", err))
		}
		return nil, sysError(fmt.Errorf("attach ledger: %w", err))
	}
	a.logger.Debug("ledger attached", zap.String("data_dir", dataDir))
	return backend, nil
}

func (a *app) backendName() string {
	if a.config == nil {
		return types.BackendSQLite
	}
	return a.config.GetString(cfgKeyBackend)
}
