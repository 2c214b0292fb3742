package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/category"
	"github.com/mesh-intelligence/labelkit/internal/manifest"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func newManifestCmd(a *app) *cobra.Command {
	var payloadPath string
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Write the dataset manifest from the payload categories",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.recorded("manifest", func(cmd *cobra.Command, cfg types.Config) (*outcome, error) {
		p, err := loadPayload(a.fs, cfg, payloadPath)
		if err != nil {
			return nil, err
		}
		mapping, err := category.Resolve(p.Categories)
		if err != nil {
			return nil, err
		}
		man, err := manifest.Generate(mapping, manifest.OptionsFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		path := resolvePath(cfg.DatasetRoot, cfg.Manifest)
		if err := manifest.Write(a.fs, path, man); err != nil {
			return nil, err
		}
		a.log.Info().Str("path", path).Int("classes", man.NC).Msg("manifest written")

		if a.flags.jsonMode {
			return &outcome{summary: man}, printJSON(cmd.OutOrStdout(), man)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d classes)\n", path, man.NC)
		return &outcome{summary: man}, nil
	})
	cmd.Flags().StringVar(&payloadPath, "payload", "", "annotation payload (default: payload from config, relative to the dataset root)")
	return cmd
}
