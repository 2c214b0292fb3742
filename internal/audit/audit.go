// Package audit inspects a dataset on disk against its annotation payload and
// reports inconsistencies. Auditing is read-only; Remediate applies the
// optional fixes.
package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/internal/annotation"
	"github.com/mesh-intelligence/labelkit/internal/bbox"
	"github.com/mesh-intelligence/labelkit/internal/category"
	"github.com/mesh-intelligence/labelkit/internal/labels"
	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/internal/manifest"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Options configures an audit.
type Options struct {
	Fs     afero.Fs
	Config types.Config

	// Payload is optional. Without it every image lacking a label is
	// reported as unprocessed and payload checks are skipped.
	Payload *types.Payload

	// Manifest is optional; when set, label class indices are checked
	// against its class count.
	Manifest *manifest.Manifest

	// ProbeDimensions decodes image headers and compares them with the
	// payload's declared width and height.
	ProbeDimensions bool

	Logger *zerolog.Logger
}

type auditor struct {
	fs      afero.Fs
	lay     layout.Layout
	idx     *annotation.Index
	mapping *category.Mapping
	classes int
	report  *Report
	log     zerolog.Logger
}

// Audit runs every check and returns the sorted report.
func Audit(ctx context.Context, opts Options) (*Report, error) {
	a := &auditor{
		fs:     opts.Fs,
		lay:    layout.New(opts.Config),
		report: &Report{Root: opts.Config.DatasetRoot, Splits: make(map[string]SplitStats)},
		log:    zerolog.Nop(),
	}
	if opts.Logger != nil {
		a.log = opts.Logger.With().Str("component", "audit").Logger()
	}
	if opts.Manifest != nil {
		a.classes = opts.Manifest.NC
	}

	if opts.Payload != nil {
		if err := a.checkPayload(opts.Payload); err != nil {
			return nil, err
		}
	}

	splits := opts.Config.Splits()
	images := make(map[string][]layout.Entry, len(splits))
	for _, split := range splits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imgs, err := a.lay.ListImages(a.fs, split)
		if err != nil {
			return nil, err
		}
		images[split] = imgs
		if err := a.checkSplit(split, imgs); err != nil {
			return nil, err
		}
	}

	a.checkContamination(splits, images)
	if a.idx != nil {
		a.checkMissingImages(images)
		if opts.ProbeDimensions {
			if err := a.probeDimensions(ctx, splits, images); err != nil {
				return nil, err
			}
			a.report.Probed = true
		}
	}
	if st := a.report.Splits[opts.Config.ValSplit]; st.Objects == 0 {
		a.report.add(KindNoValLabels, opts.Config.ValSplit, "", a.lay.LabelDir(opts.Config.ValSplit),
			"validation split has no non-empty labels; validation metrics will be meaningless")
	}

	a.report.sort()
	a.log.Info().
		Int("findings", len(a.report.Findings)).
		Str("max_severity", a.report.MaxSeverity().String()).
		Msg("audit finished")
	return a.report, nil
}

func (a *auditor) checkPayload(p *types.Payload) error {
	idx, err := annotation.Build(p, annotation.Options{})
	if err != nil {
		return err
	}
	a.idx = idx

	if k := idx.IDKinds(); k.Mismatch() {
		a.report.add(KindIDTypeMismatch, "", "", "", fmt.Sprintf(
			"image ids are spelled as %s but annotation image_id values as %s; joins must use canonical ids",
			kindList(k.Images), kindList(k.References)))
	}
	if orphans := idx.Orphans(); len(orphans) > 0 {
		a.report.add(KindOrphanAnnotation, "", "", "", idx.OrphanErr().Error())
	}
	for _, prob := range idx.Invalid() {
		a.report.add(KindInvalidImage, "", types.Stem(prob.FileName), "", prob.Err.Error())
	}

	mapping, err := category.Resolve(p.Categories)
	if err != nil {
		a.report.add(KindCategoryConfig, "", "", "", err.Error())
		return nil
	}
	a.mapping = mapping
	if a.classes == 0 {
		a.classes = mapping.Len()
	}
	return nil
}

// inPayload returns the indexed image for a file on disk.
func (a *auditor) inPayload(e layout.Entry) (types.Image, bool) {
	if a.idx == nil {
		return types.Image{}, false
	}
	if img, ok := a.idx.ByFileName(e.Name); ok {
		return img, true
	}
	return a.idx.ByStem(e.Stem)
}

// resolvable counts annotations of an image whose category maps to a class.
func (a *auditor) resolvable(img types.Image) int {
	n := 0
	for _, ann := range a.idx.Annotations(img.ID.String()) {
		if a.mapping == nil {
			n++
			continue
		}
		if _, ok := a.mapping.Lookup(ann.CategoryID.String()); ok {
			n++
		}
	}
	return n
}

func (a *auditor) checkSplit(split string, imgs []layout.Entry) error {
	lbls, err := a.lay.ListLabels(a.fs, split)
	if err != nil {
		return err
	}
	imgByStem, dups := layout.ByStem(imgs)
	lblByStem, _ := layout.ByStem(lbls)
	st := SplitStats{Images: len(imgs), Labels: len(lbls)}

	for _, d := range dups {
		a.report.add(KindDuplicateStem, split, d.Stem, d.Path,
			fmt.Sprintf("%s shares its stem with %s and both map to one label", d.Name, imgByStem[d.Stem].Name))
	}

	for _, e := range imgs {
		if _, ok := lblByStem[e.Stem]; ok {
			continue
		}
		if _, ok := a.inPayload(e); ok {
			a.report.add(KindMissingLabel, split, e.Stem, e.Path, "image is in the payload but has no label file")
		} else {
			a.report.add(KindUnprocessedImage, split, e.Stem, e.Path, "image has no label file and is not in the payload")
		}
	}

	for _, l := range lbls {
		img, hasImage := imgByStem[l.Stem]
		if !hasImage {
			a.report.add(KindOrphanLabel, split, l.Stem, l.Path,
				fmt.Sprintf("%s: label has no image in split %s", types.ErrOrphanedReference, split))
		}

		empty := l.Size == 0
		if !empty {
			lines, bad, err := labels.ReadFile(a.fs, l.Path)
			if err != nil {
				return err
			}
			a.checkLines(split, l, lines, bad)
			st.Objects += len(lines)
			empty = len(lines) == 0 && len(bad) == 0
		}
		if !empty {
			continue
		}

		st.EmptyLabels++
		a.report.add(KindEmptyLabel, split, l.Stem, l.Path, "processed, no objects")
		if !hasImage {
			continue
		}
		if rec, ok := a.inPayload(img); ok {
			if n := a.resolvable(rec); n > 0 {
				a.report.add(KindStaleEmptyLabel, split, l.Stem, l.Path,
					fmt.Sprintf("label is empty but the payload holds %d annotations for this image", n))
			}
		}
	}

	a.report.Splits[split] = st
	a.log.Debug().Str("split", split).Int("images", st.Images).Int("labels", st.Labels).Msg("split audited")
	return nil
}

func (a *auditor) checkLines(split string, l layout.Entry, lines []labels.Line, bad []labels.LineError) {
	if len(bad) > 0 {
		a.report.add(KindMalformedLabel, split, l.Stem, l.Path,
			fmt.Sprintf("%d malformed lines, first %s", len(bad), bad[0].Error()))
	}
	var outOfRange, unknown []int
	for _, ln := range lines {
		if !bbox.InUnitRange(ln.Box) {
			outOfRange = append(outOfRange, ln.Number)
		}
		if a.classes > 0 && ln.Box.Class >= a.classes {
			unknown = append(unknown, ln.Number)
		}
	}
	if len(outOfRange) > 0 {
		a.report.add(KindOutOfRangeBox, split, l.Stem, l.Path,
			fmt.Sprintf("%d boxes outside [0,1], first at line %d", len(outOfRange), outOfRange[0]))
	}
	if len(unknown) > 0 {
		a.report.add(KindUnknownClass, split, l.Stem, l.Path,
			fmt.Sprintf("%d class indices outside [0,%d), first at line %d", len(unknown), a.classes, unknown[0]))
	}
}

func (a *auditor) checkContamination(splits []string, images map[string][]layout.Entry) {
	where := make(map[string][]string)
	for _, split := range splits {
		seen := make(map[string]bool)
		for _, e := range images[split] {
			if seen[e.Stem] {
				continue
			}
			seen[e.Stem] = true
			where[e.Stem] = append(where[e.Stem], split)
		}
	}
	for stem, in := range where {
		if len(in) > 1 {
			a.report.add(KindSplitContamination, strings.Join(in, ","), stem, "",
				fmt.Sprintf("image appears in splits %s", strings.Join(in, ", ")))
		}
	}
}

func (a *auditor) checkMissingImages(images map[string][]layout.Entry) {
	onDisk := make(map[string]bool)
	for _, entries := range images {
		for _, e := range entries {
			onDisk[e.Name] = true
		}
	}
	for _, img := range a.idx.Images() {
		if len(a.idx.Annotations(img.ID.String())) == 0 || onDisk[filepath.Base(img.FileName)] {
			continue
		}
		a.report.add(KindMissingImage, "", img.Stem(), img.FileName,
			fmt.Sprintf("image %s is annotated but not present in any split", img.ID))
	}
}

func kindList(m map[types.IDKind]int) string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k.String())
	}
	sort.Strings(names)
	return strings.Join(names, "+")
}
