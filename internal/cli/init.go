package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/layout"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write config.yaml and create the dataset layout",
		Long: "Write config.yaml (unless present) with the dataset root and defaults,\n" +
			"create images/<split> and labels/<split> under the dataset root, and\n" +
			"initialize the run ledger.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return classify(err)
			}

			written, err := writeConfigIfMissing(a.configDir, cfg)
			if err != nil {
				return sysError(fmt.Errorf("write config: %w", err))
			}
			if err := layout.New(cfg).Ensure(a.fs, cfg.Splits()); err != nil {
				return sysError(err)
			}
			payloadDir := filepath.Dir(resolvePath(cfg.DatasetRoot, cfg.Payload))
			if err := a.fs.MkdirAll(payloadDir, 0o755); err != nil {
				return sysError(err)
			}

			backend, err := a.attachLedger()
			if err != nil {
				return sysError(fmt.Errorf("initialize ledger: %w", err))
			}
			if err := backend.Detach(); err != nil {
				return sysError(err)
			}
			dataDir, _ := a.dataDir()

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "labelkit initialized")
			configPath := filepath.Join(a.configDir, configFileExt)
			if written {
				fmt.Fprintln(w, "  config: ", configPath)
			} else {
				fmt.Fprintln(w, "  config: ", configPath, "(kept)")
			}
			fmt.Fprintln(w, "  dataset:", cfg.DatasetRoot)
			fmt.Fprintln(w, "  ledger: ", dataDir)
			return nil
		},
	}
}
