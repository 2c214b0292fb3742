package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/labelkit/internal/audit"
	"github.com/mesh-intelligence/labelkit/internal/manifest"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

var errCriticalFindings = errors.New("audit found critical issues")

type auditOutput struct {
	Report      *audit.Report      `json:"report"`
	Remediation *audit.Remediation `json:"remediation,omitempty"`
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		payloadPath     string
		probe           bool
		quarantineEmpty bool
		moveUnannotated bool
		commit          bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check the dataset for inconsistencies",
		Long: "Check images, labels and the payload for inconsistencies and report\n" +
			"findings by severity. --quarantine-empty and --move-unannotated plan\n" +
			"remediation moves; they only touch the disk with --commit.",
		Args: cobra.NoArgs,
	}
	cmd.RunE = a.recorded("audit", func(cmd *cobra.Command, cfg types.Config) (*outcome, error) {
		p, err := auditPayload(a.fs, cfg, payloadPath)
		if err != nil {
			return nil, err
		}
		man, err := existingManifest(a.fs, resolvePath(cfg.DatasetRoot, cfg.Manifest))
		if err != nil {
			return nil, err
		}

		report, err := audit.Audit(cmd.Context(), audit.Options{
			Fs:              a.fs,
			Config:          cfg,
			Payload:         p,
			Manifest:        man,
			ProbeDimensions: probe,
			Logger:          &a.log,
		})
		if err != nil {
			return nil, err
		}
		a.metrics.ObserveAudit(report)

		mode := types.ModeDryRun
		if commit {
			mode = types.ModeCommit
		}
		// Findings are recorded as rows; the summary keeps only the totals.
		recorded := auditOutput{Report: &audit.Report{Root: report.Root, Splits: report.Splits, Probed: report.Probed}}
		out := &outcome{mode: mode.String(), summary: recorded, findings: runFindings(report.Findings)}
		res := auditOutput{Report: report}

		if quarantineEmpty || moveUnannotated {
			rem, err := audit.Remediate(cmd.Context(), report, audit.RemediationOptions{
				Fs:              a.fs,
				Config:          cfg,
				Mode:            mode,
				QuarantineEmpty: quarantineEmpty,
				MoveUnannotated: moveUnannotated,
				Logger:          &a.log,
			})
			if err != nil {
				return out, err
			}
			res.Remediation = rem
			recorded.Remediation = rem
			out.summary = recorded
		}

		if a.flags.jsonMode {
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return out, err
			}
		} else {
			printAudit(cmd.OutOrStdout(), res)
		}
		if report.HasCritical() {
			return out, &exitError{code: exitUserError, err: errCriticalFindings}
		}
		return out, nil
	})

	cmd.Flags().StringVar(&payloadPath, "payload", "", "annotation payload (default: payload from config when the file exists)")
	cmd.Flags().BoolVar(&probe, "probe-dimensions", false, "decode image headers and compare with the payload dimensions")
	cmd.Flags().BoolVar(&quarantineEmpty, "quarantine-empty", false, "move empty labels to <labels>/<split>_backup_empty")
	cmd.Flags().BoolVar(&moveUnannotated, "move-unannotated", false, "move images without labels to <images>/<split>_unannotated")
	cmd.Flags().BoolVar(&commit, "commit", false, "apply remediation moves (default is a dry run)")
	return cmd
}

// auditPayload loads the payload named by override. Without an override the
// configured payload is used only when it exists.
func auditPayload(fs afero.Fs, cfg types.Config, override string) (*types.Payload, error) {
	if override != "" {
		return loadPayload(fs, cfg, override)
	}
	path := resolvePath(cfg.DatasetRoot, cfg.Payload)
	ok, err := afero.Exists(fs, path)
	if err != nil || !ok {
		return nil, err
	}
	return loadPayload(fs, cfg, "")
}

func existingManifest(fs afero.Fs, path string) (*manifest.Manifest, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil || !ok {
		return nil, err
	}
	return manifest.Load(fs, path)
}

func runFindings(fs []audit.Finding) []types.RunFinding {
	out := make([]types.RunFinding, 0, len(fs))
	for _, f := range fs {
		out = append(out, types.RunFinding{
			Kind:     string(f.Kind),
			Severity: f.Severity.String(),
			Split:    f.Split,
			Stem:     f.Stem,
			Path:     f.Path,
			Detail:   f.Detail,
		})
	}
	return out
}

func printAudit(w io.Writer, res auditOutput) {
	r := res.Report
	fmt.Fprintf(w, "Audit of %s\n", r.Root)

	splits := make([]string, 0, len(r.Splits))
	for s := range r.Splits {
		splits = append(splits, s)
	}
	sort.Strings(splits)
	for _, s := range splits {
		st := r.Splits[s]
		fmt.Fprintf(w, "  %-8s images %s, labels %s (%s empty), objects %s\n",
			s, comma(st.Images), comma(st.Labels), comma(st.EmptyLabels), comma(st.Objects))
	}

	if len(r.Findings) == 0 {
		fmt.Fprintln(w, "No findings.")
	} else {
		fmt.Fprintf(w, "Findings: %s (%s)\n", comma(len(r.Findings)), breakdown(r.SeverityCounts()))
		for _, f := range r.Findings {
			fmt.Fprintln(w, "  "+f.String())
		}
	}

	if rem := res.Remediation; rem != nil {
		fmt.Fprintf(w, "Remediation (%s): %s actions, %s moved, %s skipped, %s failed\n",
			rem.Mode, comma(len(rem.Actions)), comma(rem.Moved), comma(rem.Skipped), comma(rem.Failed))
		for _, act := range rem.Actions {
			line := fmt.Sprintf("  %-8s %s -> %s", act.Status, act.Move.From, act.Move.To)
			if act.Reason != "" {
				line += " (" + act.Reason + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}
