package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func newHistoryCmd(a *app) *cobra.Command {
	var filter types.RunFilter
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attachLedger()
			if err != nil {
				return classify(err)
			}
			defer backend.Detach()

			runs, err := backend.ListRuns(filter)
			if err != nil {
				return sysError(err)
			}
			if a.flags.jsonMode {
				if runs == nil {
					runs = []types.Run{}
				}
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Command, "kind", "", "only runs of this command (convert, manifest, audit, split)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of runs, newest first (0 for all)")
	cmd.AddCommand(newHistoryShowCmd(a))
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its findings",
		Long:  "Show a recorded run. The run id may be abbreviated to any unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.attachLedger()
			if err != nil {
				return classify(err)
			}
			defer backend.Detach()

			run, err := backend.GetRun(args[0])
			if err != nil {
				return classify(err)
			}
			findings, err := backend.Findings(run.ID)
			if err != nil {
				return sysError(err)
			}

			if a.flags.jsonMode {
				if findings == nil {
					findings = []types.RunFinding{}
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Run      *types.Run         `json:"run"`
					Findings []types.RunFinding `json:"findings"`
				}{run, findings})
			}
			printRun(cmd.OutOrStdout(), run, findings)
			return nil
		},
	}
}

func printRuns(w io.Writer, runs []types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tCOMMAND\tMODE\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		mode := r.Mode
		if mode == "" {
			mode = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.Command, mode, r.Status, humanize.Time(r.StartedAt), r.Duration().Round(1e6))
	}
	tw.Flush()
}

func printRun(w io.Writer, r *types.Run, findings []types.RunFinding) {
	fmt.Fprintf(w, "Run %s\n", r.ID)
	fmt.Fprintf(w, "  command:  %s\n", r.Command)
	if r.Mode != "" {
		fmt.Fprintf(w, "  mode:     %s\n", r.Mode)
	}
	fmt.Fprintf(w, "  root:     %s\n", r.Root)
	fmt.Fprintf(w, "  status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", r.Error)
	}
	fmt.Fprintf(w, "  started:  %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Fprintf(w, "  duration: %s\n", r.Duration().Round(1e6))
	if len(r.Summary) > 0 {
		fmt.Fprintf(w, "  summary:  %s\n", humanize.Bytes(uint64(len(r.Summary))))
	}
	if len(findings) == 0 {
		return
	}
	fmt.Fprintf(w, "Findings (%s):\n", comma(len(findings)))
	for _, f := range findings {
		loc := f.Split
		if f.Stem != "" {
			loc += "/" + f.Stem
		}
		fmt.Fprintf(w, "  [%s] %s %s: %s\n", f.Severity, f.Kind, loc, f.Detail)
	}
}

// shortID returns the timestamp and first random bits of a UUIDv7. It is a
// prefix accepted by "history show".
func shortID(id string) string {
	if len(id) > 18 {
		return id[:18]
	}
	return id
}
