package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/convert"
	"github.com/mesh-intelligence/labelkit/internal/payload"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func newConvertCmd(a *app) *cobra.Command {
	var (
		payloadPath       string
		workers           int
		emptyUnreferenced bool
		strict            bool
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert the annotation payload into label files and the manifest",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = a.recorded("convert", func(cmd *cobra.Command, cfg types.Config) (*outcome, error) {
		if cmd.Flags().Changed("workers") {
			if workers < 1 {
				return nil, fmt.Errorf("%w: %w", types.ErrConfiguration, types.ErrWorkersInvalid)
			}
			cfg.Workers = workers
		}
		p, err := loadPayload(a.fs, cfg, payloadPath)
		if err != nil {
			return nil, err
		}

		sum, err := convert.Run(cmd.Context(), convert.Options{
			Fs:                   a.fs,
			Config:               cfg,
			Payload:              p,
			ManifestPath:         resolvePath(cfg.DatasetRoot, cfg.Manifest),
			EmptyForUnreferenced: emptyUnreferenced,
			Strict:               strict,
			Logger:               &a.log,
		})
		if err != nil {
			return nil, err
		}
		a.metrics.ObserveConvert(sum)

		if a.flags.jsonMode {
			err = printJSON(cmd.OutOrStdout(), sum)
		} else {
			printConvertSummary(cmd.OutOrStdout(), sum)
		}
		if err != nil {
			return &outcome{summary: sum}, err
		}
		return &outcome{summary: sum}, sum.Err()
	})

	cmd.Flags().StringVar(&payloadPath, "payload", "", "annotation payload (default: payload from config, relative to the dataset root)")
	cmd.Flags().IntVar(&workers, "workers", 1, "number of conversion workers")
	cmd.Flags().BoolVar(&emptyUnreferenced, "empty-unreferenced", false, "write empty labels for images on disk that the payload does not mention")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail when annotations reference images with invalid metadata")
	return cmd
}

// loadPayload reads the payload named by override, or by the configuration.
func loadPayload(fs afero.Fs, cfg types.Config, override string) (*types.Payload, error) {
	path := override
	if path == "" {
		path = resolvePath(cfg.DatasetRoot, cfg.Payload)
	}
	return payload.Load(fs, path)
}

func printConvertSummary(w io.Writer, s *convert.Summary) {
	fmt.Fprintf(w, "Converted %s images in %s\n", comma(s.Images), s.Duration.Round(1e6))
	fmt.Fprintf(w, "  labels:   %s (%s empty)\n", comma(s.LabelsWritten+s.EmptyLabels), comma(s.EmptyLabels))
	fmt.Fprintf(w, "  lines:    %s\n", comma(s.LinesWritten))
	if n := s.SkippedTotal(); n > 0 {
		fmt.Fprintf(w, "  skipped:  %s (%s)\n", comma(n), breakdown(s.Skipped))
	}
	if s.ImagesNotOnDisk > 0 {
		fmt.Fprintf(w, "  missing:  %s images not found in any split\n", comma(s.ImagesNotOnDisk))
	}
	if s.Orphaned > 0 {
		fmt.Fprintf(w, "  orphaned: %s annotations (image ids %s)\n", comma(s.Orphaned), strings.Join(s.OrphanSample, ", "))
	}
	if s.InvalidImages > 0 {
		fmt.Fprintf(w, "  invalid:  %s images\n", comma(s.InvalidImages))
	}
	if s.Manifest != "" {
		fmt.Fprintf(w, "  manifest: %s\n", s.Manifest)
	}

	idxs := make([]int, 0, len(s.ClassNames))
	for i := range s.ClassNames {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	fmt.Fprintln(w, "  per class:")
	for _, i := range idxs {
		fmt.Fprintf(w, "    %3d %-20s %s\n", i, s.ClassNames[i], comma(s.PerClass[i]))
	}
	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}
