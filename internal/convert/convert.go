// Package convert turns an annotation payload into per-image label files and
// the dataset manifest.
//
// A pass resolves categories, joins images and annotations, locates each image
// in a split directory, then writes one label file per image found on disk.
// Structural failures (category indices, manifest) abort before any label is
// written; per-image failures are skipped and counted in the Summary.
package convert

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/labelkit/internal/annotation"
	"github.com/mesh-intelligence/labelkit/internal/bbox"
	"github.com/mesh-intelligence/labelkit/internal/category"
	"github.com/mesh-intelligence/labelkit/internal/labels"
	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/internal/manifest"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Skip reasons. Annotation-level reasons count annotation records.
const (
	ReasonUnknownCategory = "unknown_category"
	ReasonImageNotOnDisk  = "image_not_on_disk"
	ReasonSplitConflict   = "split_conflict"
	ReasonInvalidImage    = "invalid_image"
	ReasonInvalidBBox     = "invalid_bbox"
	ReasonWriteError      = "write_error"
)

const orphanSampleSize = 10

// Options configures a conversion pass.
type Options struct {
	Fs      afero.Fs
	Config  types.Config
	Payload *types.Payload

	// ManifestPath, when set, receives the manifest after labels are written.
	ManifestPath string

	// EmptyForUnreferenced writes zero-byte labels for images on disk that the
	// payload does not mention, unless a label already exists.
	EmptyForUnreferenced bool

	Strict bool
	Logger *zerolog.Logger
}

// Summary reports what a pass did. A pass always produces one.
type Summary struct {
	// Images is the number of label files the pass owned.
	Images             int            `json:"images"`
	LabelsWritten      int            `json:"labels_written"`
	EmptyLabels        int            `json:"empty_labels"`
	LinesWritten       int            `json:"lines_written"`
	ImagesNotOnDisk    int            `json:"images_not_on_disk"`
	Skipped            map[string]int `json:"skipped"`
	Orphaned           int            `json:"orphaned"`
	OrphanSample       []string       `json:"orphan_sample,omitempty"`
	InvalidImages      int            `json:"invalid_images"`
	InvalidAnnotations int            `json:"invalid_annotations"`
	PerClass           map[int]int    `json:"per_class"`
	ClassNames         map[int]string `json:"class_names"`
	PerSplit           map[string]int `json:"per_split"`
	Manifest           string         `json:"manifest,omitempty"`
	Warnings           []string       `json:"warnings,omitempty"`
	Duration           time.Duration  `json:"duration"`
}

// SkippedTotal returns the number of skipped annotation records.
func (s *Summary) SkippedTotal() int {
	n := 0
	for _, v := range s.Skipped {
		n += v
	}
	return n
}

// Err returns ErrNothingConverted when the pass wrote no label lines.
func (s *Summary) Err() error {
	if s.LinesWritten > 0 {
		return nil
	}
	return fmt.Errorf("%w: %d skipped, %d orphaned, %d images not on disk",
		types.ErrNothingConverted, s.SkippedTotal(), s.Orphaned, s.ImagesNotOnDisk)
}

type workItem struct {
	split string
	stem  string
	img   types.Image
	anns  []types.Annotation
}

// Run executes one conversion pass.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("component", "convert").Logger()
	}
	cfg := opts.Config
	lay := layout.New(cfg)

	mapping, err := category.Resolve(opts.Payload.Categories)
	if err != nil {
		return nil, err
	}
	var man *manifest.Manifest
	if opts.ManifestPath != "" {
		if man, err = manifest.Generate(mapping, manifest.OptionsFromConfig(cfg)); err != nil {
			return nil, err
		}
	}

	idx, err := annotation.Build(opts.Payload, annotation.Options{Strict: opts.Strict})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Skipped:            make(map[string]int),
		Orphaned:           len(idx.Orphans()),
		InvalidImages:      len(idx.Invalid()),
		InvalidAnnotations: len(idx.InvalidAnnotations()),
		PerClass:           make(map[int]int),
		ClassNames:         mapping.Names(),
		PerSplit:           make(map[string]int),
	}
	if n := idx.SkippedInvalidImage(); n > 0 {
		sum.Skipped[ReasonInvalidImage] = n
	}
	if n := len(idx.InvalidAnnotations()); n > 0 {
		sum.Skipped[ReasonInvalidBBox] = n
	}
	for i, o := range idx.Orphans() {
		if i == orphanSampleSize {
			break
		}
		sum.OrphanSample = append(sum.OrphanSample, o.ImageID)
	}
	if err := idx.OrphanErr(); err != nil {
		log.Warn().Err(err).Msg("orphaned annotations skipped")
	}
	for _, p := range idx.Invalid() {
		log.Warn().Err(p.Err).Str("file", p.FileName).Msg("image excluded")
	}

	items, err := plan(opts.Fs, lay, cfg.Splits(), idx, opts.EmptyForUnreferenced, sum)
	if err != nil {
		return nil, err
	}
	sum.Images = len(items)
	log.Debug().Int("items", len(items)).Int("workers", cfg.Workers).Msg("conversion planned")

	w := labels.NewWriter(opts.Fs, lay)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			boxes, unknown := resolveBoxes(it, mapping)
			writeErr := w.Write(it.split, it.stem, boxes)

			mu.Lock()
			defer mu.Unlock()
			if unknown > 0 {
				sum.Skipped[ReasonUnknownCategory] += unknown
			}
			if writeErr != nil {
				sum.Skipped[ReasonWriteError] += len(it.anns)
				log.Error().Err(writeErr).Str("image", it.img.FileName).Msg("label write failed")
				return nil
			}
			sum.PerSplit[it.split]++
			if len(boxes) == 0 {
				sum.EmptyLabels++
				return nil
			}
			sum.LabelsWritten++
			sum.LinesWritten += len(boxes)
			for _, b := range boxes {
				sum.PerClass[b.Class]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if man != nil {
		if err := manifest.Write(opts.Fs, opts.ManifestPath, man); err != nil {
			return nil, fmt.Errorf("writing manifest: %w", err)
		}
		sum.Manifest = opts.ManifestPath
	}

	sum.Warnings = qualityWarnings(sum, cfg)
	sum.Duration = time.Since(start)

	log.Info().
		Int("labels", sum.LabelsWritten).
		Int("empty", sum.EmptyLabels).
		Int("lines", sum.LinesWritten).
		Int("skipped", sum.SkippedTotal()).
		Int("orphaned", sum.Orphaned).
		Dur("duration", sum.Duration).
		Msg("conversion finished")
	return sum, nil
}

// plan assigns each indexed image to the split directory that holds its file.
func plan(fs afero.Fs, lay layout.Layout, splits []string, idx *annotation.Index, emptyUnreferenced bool, sum *Summary) ([]workItem, error) {
	where := make(map[string][]string)
	onDisk := make(map[string][]layout.Entry)
	for _, s := range splits {
		entries, err := lay.ListImages(fs, s)
		if err != nil {
			return nil, err
		}
		onDisk[s] = entries
		for _, e := range entries {
			where[e.Name] = append(where[e.Name], s)
		}
	}

	var items []workItem
	for _, img := range idx.Images() {
		anns := idx.Annotations(img.ID.String())
		locs := where[filepath.Base(img.FileName)]
		switch len(locs) {
		case 0:
			sum.ImagesNotOnDisk++
			if len(anns) > 0 {
				sum.Skipped[ReasonImageNotOnDisk] += len(anns)
			}
			continue
		case 1:
		default:
			if len(anns) > 0 {
				sum.Skipped[ReasonSplitConflict] += len(anns)
			}
			continue
		}
		items = append(items, workItem{split: locs[0], stem: img.Stem(), img: img, anns: anns})
	}

	if emptyUnreferenced {
		for _, s := range splits {
			for _, e := range onDisk[s] {
				if _, ok := idx.ByFileName(e.Name); ok {
					continue
				}
				if _, ok := idx.ByStem(e.Stem); ok {
					continue
				}
				exists, err := afero.Exists(fs, lay.LabelPath(s, e.Stem))
				if err != nil {
					return nil, err
				}
				if !exists {
					items = append(items, workItem{split: s, stem: e.Stem, img: types.Image{FileName: e.Name}})
				}
			}
		}
	}
	return items, nil
}

func resolveBoxes(it workItem, mapping *category.Mapping) ([]types.NormalizedBox, int) {
	var (
		boxes   []types.NormalizedBox
		unknown int
	)
	for _, ann := range it.anns {
		rc, ok := mapping.Lookup(ann.CategoryID.String())
		if !ok {
			unknown++
			continue
		}
		// Boxes were validated when the index was built.
		b, _ := ann.Box()
		boxes = append(boxes, bbox.Normalize(b, it.img.Width, it.img.Height, rc.Index))
	}
	return boxes, unknown
}

func qualityWarnings(sum *Summary, cfg types.Config) []string {
	var out []string
	switch {
	case cfg.MinImages > 0 && sum.LabelsWritten < cfg.MinImages:
		out = append(out, fmt.Sprintf("only %d annotated images, at least %d are needed", sum.LabelsWritten, cfg.MinImages))
	case cfg.RecommendedImages > 0 && sum.LabelsWritten < cfg.RecommendedImages:
		out = append(out, fmt.Sprintf("%d annotated images, %d or more recommended", sum.LabelsWritten, cfg.RecommendedImages))
	}

	if sum.LabelsWritten > 0 {
		if density := float64(sum.LinesWritten) / float64(sum.LabelsWritten); density < 2 {
			out = append(out, fmt.Sprintf("low annotation density: %.1f objects per image", density))
		}
	}

	if cfg.MinPerClass > 0 {
		idxs := make([]int, 0, len(sum.ClassNames))
		for i := range sum.ClassNames {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		var thin []string
		for _, i := range idxs {
			if sum.PerClass[i] < cfg.MinPerClass {
				thin = append(thin, fmt.Sprintf("%s (%d)", sum.ClassNames[i], sum.PerClass[i]))
			}
		}
		if len(thin) > 0 {
			out = append(out, fmt.Sprintf("classes under %d annotations: %s", cfg.MinPerClass, strings.Join(thin, ", ")))
		}
	}
	return out
}
