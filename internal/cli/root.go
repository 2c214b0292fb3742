// Package cli implements the labelkit command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/labelkit/internal/metrics"
	"github.com/mesh-intelligence/labelkit/internal/paths"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir   string
	root        string
	dataDir     string
	jsonMode    bool
	logLevel    string
	logJSON     bool
	metricsFile string
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags rootFlags
	fs    afero.Fs

	configDir string
	v         *viper.Viper
	cfg       types.Config
	rootErr   error

	log     zerolog.Logger
	metrics *metrics.RunMetrics
}

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// NewRootCmd creates the top-level "labelkit" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	return newRootCmd(afero.NewOsFs())
}

func newRootCmd(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs, log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "labelkit",
		Short: "Prepare object-detection datasets",
		Long: "labelkit converts a JSON annotation payload into per-image label files,\n" +
			"audits the dataset for inconsistencies and maintains a reproducible\n" +
			"train/validation split.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.root, "root", "", "dataset root (default: dataset_root from config.yaml or $LABELKIT_DATASET_ROOT)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "run ledger directory (default: <root>/.labelkit)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.flags.logJSON, "log-json", false, "write logs as JSON lines")
	pf.StringVar(&a.flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newConvertCmd(a))
	root.AddCommand(newManifestCmd(a))
	root.AddCommand(newAuditCmd(a))
	root.AddCommand(newSplitCmd(a))
	root.AddCommand(newHistoryCmd(a))
	return root
}

// setup resolves the configuration directory, loads config.yaml and builds
// the merged run configuration, the logger and the metrics registry.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	a.configDir = configDir

	v, err := loadConfig(configDir, cmd.Name() != "init")
	if err != nil {
		return sysError(err)
	}
	a.v = v

	level := a.flags.logLevel
	if level == "" {
		level = v.GetString(cfgKeyLogLevel)
	}
	if a.log, err = newLogger(cmd.ErrOrStderr(), level, a.flags.logJSON); err != nil {
		return err
	}

	a.cfg = configFromViper(v)
	a.cfg.DatasetRoot, a.rootErr = paths.ResolveDatasetRoot(a.flags.root, v.GetString(cfgKeyDatasetRoot))

	if a.metrics, err = metrics.NewRunMetrics(prometheus.NewRegistry()); err != nil {
		return sysError(err)
	}
	a.log.Debug().Str("config_dir", configDir).Str("root", a.cfg.DatasetRoot).Msg("configuration loaded")
	return nil
}

// config returns the validated run configuration.
func (a *app) config() (types.Config, error) {
	if a.rootErr != nil {
		return types.Config{}, a.rootErr
	}
	if err := a.cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return a.cfg, nil
}

// dataDir resolves the run ledger directory.
func (a *app) dataDir() (string, error) {
	return paths.ResolveDataDir(a.flags.dataDir, a.v.GetString(cfgKeyDataDir), a.cfg.DatasetRoot)
}

func sysError(err error) error {
	return &exitError{code: exitSysError, err: err}
}

// userErrors are failures caused by the dataset, the payload or the
// invocation rather than the system.
var userErrors = []error{
	types.ErrConfiguration,
	types.ErrDatasetFormat,
	types.ErrDatasetRootUnset,
	types.ErrNothingConverted,
	types.ErrSplitIntegrity,
	types.ErrInvalidMode,
	types.ErrRunNotFound,
	types.ErrAmbiguousRunID,
	os.ErrNotExist,
}

// classify marks every error that is not a known user error as a system error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	for _, userErr := range userErrors {
		if errors.Is(err, userErr) {
			return err
		}
	}
	return sysError(err)
}

// exitCode maps an error to a process exit code. Unclassified errors, such as
// flag parsing failures from cobra, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, NewRootCmd(), os.Args[1:], os.Stderr)
}

func execute(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "labelkit:", err)
	}
	return exitCode(err)
}
