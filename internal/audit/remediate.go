package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/internal/fsx"
	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Action statuses.
const (
	StatusPlanned = "planned"
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// RemediationOptions selects the fixes to apply.
type RemediationOptions struct {
	Fs     afero.Fs
	Config types.Config
	Mode   types.Mode

	// QuarantineEmpty moves zero-byte labels to <labels>/<split>_backup_empty.
	QuarantineEmpty bool
	// MoveUnannotated moves images without a label to <images>/<split>_unannotated.
	MoveUnannotated bool

	Logger *zerolog.Logger
}

// Action is one planned or executed move.
type Action struct {
	Kind   Kind     `json:"kind"`
	Split  string   `json:"split"`
	Move   fsx.Move `json:"move"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
}

// Remediation lists the actions derived from a report.
type Remediation struct {
	Mode    types.Mode `json:"-"`
	Actions []Action   `json:"actions"`
	Moved   int        `json:"moved"`
	Skipped int        `json:"skipped"`
	Failed  int        `json:"failed"`
}

// Remediate derives moves from report findings. In types.ModeDryRun nothing on disk
// changes. Destinations are never overwritten; a collision skips the action.
func Remediate(ctx context.Context, report *Report, opts RemediationOptions) (*Remediation, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidMode, int(opts.Mode))
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "remediate").Logger()
	}
	lay := layout.New(opts.Config)
	rem := &Remediation{Mode: opts.Mode}

	for _, f := range report.Findings {
		var dir string
		switch {
		case opts.QuarantineEmpty && f.Kind == KindEmptyLabel:
			dir = lay.QuarantineDir(f.Split)
		case opts.MoveUnannotated && (f.Kind == KindMissingLabel || f.Kind == KindUnprocessedImage):
			dir = lay.UnannotatedDir(f.Split)
		default:
			continue
		}
		if err := ctx.Err(); err != nil {
			return rem, err
		}

		act := Action{
			Kind:  f.Kind,
			Split: f.Split,
			Move:  fsx.Move{From: f.Path, To: filepath.Join(dir, filepath.Base(f.Path))},
		}
		if err := fsx.Check(opts.Fs, act.Move); err != nil {
			act.Status, act.Reason = StatusSkipped, err.Error()
			rem.Skipped++
			rem.Actions = append(rem.Actions, act)
			continue
		}
		if opts.Mode == types.ModeDryRun {
			act.Status = StatusPlanned
			rem.Actions = append(rem.Actions, act)
			continue
		}

		if err := fsx.MoveFile(opts.Fs, act.Move); err != nil {
			act.Status, act.Reason = StatusFailed, err.Error()
			if errors.Is(err, fsx.ErrDestinationExists) || errors.Is(err, fsx.ErrSourceMissing) {
				act.Status = StatusSkipped
				rem.Skipped++
			} else {
				rem.Failed++
			}
			log.Warn().Err(err).Str("from", act.Move.From).Msg("remediation move not applied")
		} else {
			act.Status = StatusDone
			rem.Moved++
		}
		rem.Actions = append(rem.Actions, act)
	}

	log.Info().
		Str("mode", opts.Mode.String()).
		Int("actions", len(rem.Actions)).
		Int("moved", rem.Moved).
		Int("skipped", rem.Skipped).
		Msg("remediation finished")
	return rem, nil
}
