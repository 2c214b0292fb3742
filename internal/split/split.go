// Package split assigns labelled images to the training and validation splits
// and relocates image/label pairs to match.
//
// The assignment is a pure function of the seed and the set of labelled stems:
// stems are ordered by the FNV-1a hash of "seed:stem" and the first
// ceil(n*fraction) go to validation. Running Organize again on the same
// dataset therefore moves nothing.
package split

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/internal/fsx"
	"github.com/mesh-intelligence/labelkit/internal/labels"
	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Move statuses.
const (
	StatusPlanned = "planned"
	StatusDone    = "done"
	StatusSkipped = "skipped"
)

// Options configures a split pass. ValFraction, SplitSeed and the split names
// come from Config.
type Options struct {
	Fs     afero.Fs
	Config types.Config
	Mode   types.Mode
	Logger *zerolog.Logger
}

// Move relocates one image/label pair between splits.
type Move struct {
	Stem   string   `json:"stem"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Image  fsx.Move `json:"image"`
	Label  fsx.Move `json:"label"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
}

// Problem is a file left out of the universe or a pair that could not move.
type Problem struct {
	Split  string `json:"split"`
	Stem   string `json:"stem"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Count is the number of images and labels in a split.
type Count struct {
	Images int `json:"images"`
	Labels int `json:"labels"`
}

// Result describes a split pass.
type Result struct {
	Mode     types.Mode       `json:"-"`
	Universe int              `json:"universe"`
	Train    int              `json:"train"`
	Val      int              `json:"val"`
	Moves    []Move           `json:"moves"`
	Moved    int              `json:"moved"`
	Skipped  int              `json:"skipped"`
	Problems []Problem        `json:"problems,omitempty"`
	Counts   map[string]Count `json:"counts"`
}

type pair struct {
	stem  string
	split string
	image layout.Entry
	label layout.Entry
}

// Organize computes the assignment and, in types.ModeCommit, relocates every
// pair whose current split differs from its assigned one. After relocating it
// checks that each split pairs every image with exactly one label and every
// label with exactly one image; a violation returns ErrSplitIntegrity and the
// completed moves stay in place.
func Organize(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if !(cfg.ValFraction > 0 && cfg.ValFraction < 1) {
		return nil, fmt.Errorf("%w: %w: got %v", types.ErrConfiguration, types.ErrValFraction, cfg.ValFraction)
	}
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidMode, int(opts.Mode))
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "split").Logger()
	}
	lay := layout.New(cfg)
	res := &Result{Mode: opts.Mode, Counts: make(map[string]Count)}

	pairs, err := collect(opts.Fs, lay, []string{cfg.TrainSplit, cfg.ValSplit}, res)
	if err != nil {
		return nil, err
	}
	res.Universe = len(pairs)
	order(pairs, cfg.SplitSeed)
	nVal := valCount(len(pairs), cfg.ValFraction)
	res.Val, res.Train = nVal, len(pairs)-nVal

	for i, p := range pairs {
		target := cfg.TrainSplit
		if i < nVal {
			target = cfg.ValSplit
		}
		if p.split == target {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		mv := Move{
			Stem:  p.stem,
			From:  p.split,
			To:    target,
			Image: fsx.Move{From: p.image.Path, To: lay.ImagePath(target, p.image.Name)},
			Label: fsx.Move{From: p.label.Path, To: lay.LabelPath(target, p.stem)},
		}
		mv, err := relocate(opts.Fs, opts.Mode, mv, res)
		res.Moves = append(res.Moves, mv)
		if err != nil {
			return res, fmt.Errorf("%w: %w", types.ErrSplitIntegrity, err)
		}
	}

	for _, s := range []string{cfg.TrainSplit, cfg.ValSplit} {
		if res.Counts[s], err = count(opts.Fs, lay, s); err != nil {
			return res, err
		}
	}

	log.Info().
		Str("mode", opts.Mode.String()).
		Int("universe", res.Universe).
		Int("val", res.Val).
		Int("moves", len(res.Moves)).
		Int("moved", res.Moved).
		Int("skipped", res.Skipped).
		Msg("split finished")

	if opts.Mode == types.ModeCommit {
		if err := verify(opts.Fs, lay, []string{cfg.TrainSplit, cfg.ValSplit}); err != nil {
			return res, err
		}
	}
	return res, nil
}

// relocate returns an error only when a pair was left half moved.
func relocate(fs afero.Fs, mode types.Mode, mv Move, res *Result) (Move, error) {
	err := fsx.Check(fs, mv.Image)
	if err == nil {
		err = fsx.Check(fs, mv.Label)
	}
	if err == nil && mode == types.ModeCommit {
		err = fsx.MovePair(fs, mv.Image, mv.Label)
	}
	switch {
	case errors.Is(err, fsx.ErrPartialMove):
		mv.Status, mv.Reason = StatusSkipped, err.Error()
		return mv, err
	case err != nil:
		mv.Status, mv.Reason = StatusSkipped, err.Error()
		res.Skipped++
		res.Problems = append(res.Problems, Problem{Split: mv.From, Stem: mv.Stem, Path: mv.Image.From, Reason: err.Error()})
	case mode == types.ModeCommit:
		mv.Status = StatusDone
		res.Moved++
	default:
		mv.Status = StatusPlanned
	}
	return mv, nil
}

// collect returns the stems that have an image and a non-empty, parseable
// label in the same split. Everything else is recorded as a Problem.
func collect(fs afero.Fs, lay layout.Layout, splits []string, res *Result) ([]pair, error) {
	seen := make(map[string]int)
	var pairs []pair
	for _, split := range splits {
		imgs, err := lay.ListImages(fs, split)
		if err != nil {
			return nil, err
		}
		lbls, err := lay.ListLabels(fs, split)
		if err != nil {
			return nil, err
		}
		lblByStem, _ := layout.ByStem(lbls)
		imgByStem, dups := layout.ByStem(imgs)
		dupStems := make(map[string]bool)
		for _, d := range dups {
			dupStems[d.Stem] = true
		}

		for _, img := range imgs {
			if dupStems[img.Stem] {
				res.Problems = append(res.Problems, Problem{Split: split, Stem: img.Stem, Path: img.Path, Reason: "several images share this stem"})
				continue
			}
			lbl, ok := lblByStem[img.Stem]
			if !ok {
				res.Problems = append(res.Problems, Problem{Split: split, Stem: img.Stem, Path: img.Path, Reason: "missing label"})
				continue
			}
			if reason, err := unusable(fs, lbl); err != nil {
				return nil, err
			} else if reason != "" {
				res.Problems = append(res.Problems, Problem{Split: split, Stem: img.Stem, Path: lbl.Path, Reason: reason})
				continue
			}
			if i, dup := seen[img.Stem]; dup {
				if first := pairs[i]; first.stem != "" {
					res.Problems = append(res.Problems, Problem{Split: first.split, Stem: first.stem, Path: first.image.Path,
						Reason: "stem present in more than one split"})
					pairs[i].stem = ""
				}
				res.Problems = append(res.Problems, Problem{Split: split, Stem: img.Stem, Path: img.Path,
					Reason: "stem present in more than one split"})
				continue
			}
			seen[img.Stem] = len(pairs)
			pairs = append(pairs, pair{stem: img.Stem, split: split, image: img, label: lbl})
		}
		for _, lbl := range lbls {
			if _, ok := imgByStem[lbl.Stem]; !ok {
				res.Problems = append(res.Problems, Problem{Split: split, Stem: lbl.Stem, Path: lbl.Path, Reason: "label without image"})
			}
		}
	}

	kept := pairs[:0]
	for _, p := range pairs {
		if p.stem != "" {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func unusable(fs afero.Fs, lbl layout.Entry) (string, error) {
	if lbl.Size == 0 {
		return "empty label", nil
	}
	lines, bad, err := labels.ReadFile(fs, lbl.Path)
	if err != nil {
		return "", err
	}
	switch {
	case len(bad) > 0:
		return "unparseable label: " + bad[0].Error(), nil
	case len(lines) == 0:
		return "empty label", nil
	}
	return "", nil
}

// valCount returns ceil(n*f). The product is rounded to nine decimals first so
// that 100*0.07, which is 7.000000000000001 in float64, yields 7.
func valCount(n int, f float64) int {
	x := float64(n) * f
	return int(math.Ceil(math.Round(x*1e9) / 1e9))
}

func order(pairs []pair, seed int64) {
	keys := make(map[string]uint64, len(pairs))
	for _, p := range pairs {
		keys[p.stem] = hashStem(seed, p.stem)
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := keys[pairs[i].stem], keys[pairs[j].stem]
		if a != b {
			return a < b
		}
		return pairs[i].stem < pairs[j].stem
	})
}

func hashStem(seed int64, stem string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(seed, 10) + ":" + stem))
	return h.Sum64()
}

func count(fs afero.Fs, lay layout.Layout, split string) (Count, error) {
	imgs, err := lay.ListImages(fs, split)
	if err != nil {
		return Count{}, err
	}
	lbls, err := lay.ListLabels(fs, split)
	if err != nil {
		return Count{}, err
	}
	return Count{Images: len(imgs), Labels: len(lbls)}, nil
}

// verify checks the image/label bijection of each split.
func verify(fs afero.Fs, lay layout.Layout, splits []string) error {
	var errs []error
	for _, split := range splits {
		imgs, err := lay.ListImages(fs, split)
		if err != nil {
			return err
		}
		lbls, err := lay.ListLabels(fs, split)
		if err != nil {
			return err
		}
		imgByStem, imgDups := layout.ByStem(imgs)
		lblByStem, _ := layout.ByStem(lbls)
		var unpaired []string
		for stem := range imgByStem {
			if _, ok := lblByStem[stem]; !ok {
				unpaired = append(unpaired, stem)
			}
		}
		for stem := range lblByStem {
			if _, ok := imgByStem[stem]; !ok {
				unpaired = append(unpaired, stem)
			}
		}
		for _, d := range imgDups {
			unpaired = append(unpaired, d.Stem)
		}
		if len(unpaired) == 0 {
			continue
		}
		sort.Strings(unpaired)
		errs = append(errs, fmt.Errorf("%w: split %s has %d images and %d labels; unpaired stems: %s",
			types.ErrSplitIntegrity, split, len(imgs), len(lbls), strings.Join(unpaired, ", ")))
	}
	return errors.Join(errs...)
}
