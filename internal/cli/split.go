package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/split"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func newSplitCmd(a *app) *cobra.Command {
	var (
		valFraction float64
		seed        int64
		commit      bool
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Assign labelled images to train and val reproducibly",
		Long: "Pool every image/label pair from the train and val splits, order them\n" +
			"by a seeded hash of the stem and assign the first ceil(n*fraction) to\n" +
			"val. Without --commit the moves are only printed.",
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.recorded("split", func(cmd *cobra.Command, cfg types.Config) (*outcome, error) {
		if cmd.Flags().Changed("val-fraction") {
			cfg.ValFraction = valFraction
		}
		if cmd.Flags().Changed("seed") {
			cfg.SplitSeed = seed
		}
		mode := types.ModeDryRun
		if commit {
			mode = types.ModeCommit
		}

		res, err := split.Organize(cmd.Context(), split.Options{
			Fs:     a.fs,
			Config: cfg,
			Mode:   mode,
			Logger: &a.log,
		})
		out := &outcome{mode: mode.String()}
		if res == nil {
			return out, err
		}
		out.summary = res
		a.metrics.ObserveSplit(res, cfg.TrainSplit, cfg.ValSplit)

		if a.flags.jsonMode {
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
				err = perr
			}
		} else {
			printSplit(cmd.OutOrStdout(), res, cfg)
		}
		return out, err
	})

	cmd.Flags().Float64Var(&valFraction, "val-fraction", types.DefaultValFraction, "fraction of pairs assigned to val, in (0,1)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "hash seed for the assignment")
	cmd.Flags().BoolVar(&commit, "commit", false, "move files (default is a dry run)")
	return cmd
}

func printSplit(w io.Writer, res *split.Result, cfg types.Config) {
	fmt.Fprintf(w, "Split (%s): %s pairs, %s %s, %s %s\n", res.Mode, comma(res.Universe),
		comma(res.Train), cfg.TrainSplit, comma(res.Val), cfg.ValSplit)

	verb := "to move"
	if res.Mode == types.ModeCommit {
		verb = "moved"
	}
	fmt.Fprintf(w, "  %s %s, %s skipped\n", verb, comma(len(res.Moves)-res.Skipped), comma(res.Skipped))
	for _, mv := range res.Moves {
		line := fmt.Sprintf("  %-8s %s: %s -> %s", mv.Status, mv.Stem, mv.From, mv.To)
		if mv.Reason != "" {
			line += " (" + mv.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
	for _, p := range res.Problems {
		fmt.Fprintf(w, "  excluded %s/%s: %s\n", p.Split, p.Stem, p.Reason)
	}

	splits := make([]string, 0, len(res.Counts))
	for s := range res.Counts {
		splits = append(splits, s)
	}
	sort.Strings(splits)
	for _, s := range splits {
		c := res.Counts[s]
		fmt.Fprintf(w, "  %-8s images %s, labels %s\n", s, comma(c.Images), comma(c.Labels))
	}
}
