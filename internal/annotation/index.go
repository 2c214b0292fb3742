// Package annotation joins payload images and annotations into a lookup keyed
// by canonical image identifier.
//
// Identifiers are compared only in their canonical string form, so an
// annotation that spells image_id as "2" joins an image whose id is the number
// 2. Comparing raw JSON values instead silently drops every annotation of a
// payload whose two collections disagree on identifier type.
package annotation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Options controls index construction.
type Options struct {
	// Strict makes Build fail when an annotation references an image with
	// missing or invalid metadata. Otherwise the image is excluded and counted.
	Strict bool
}

// Problem is a record excluded from the index.
type Problem struct {
	ID       string // canonical image or annotation id
	FileName string
	Err      error
}

// Orphan is an annotation whose image id matches no image.
type Orphan struct {
	AnnotationID string
	ImageID      string
}

// Kinds counts identifier spellings per collection.
type Kinds struct {
	Images     map[types.IDKind]int
	References map[types.IDKind]int
}

// Mismatch reports whether image ids and annotation image references are
// spelled with different JSON types.
func (k Kinds) Mismatch() bool {
	if len(k.Images) == 0 || len(k.References) == 0 {
		return false
	}
	if len(k.Images) != len(k.References) {
		return true
	}
	for kind := range k.Images {
		if _, ok := k.References[kind]; !ok {
			return true
		}
	}
	return false
}

// Index is the read-only join of images and annotations.
type Index struct {
	images   map[string]types.Image
	byFile   map[string]string
	byStem   map[string]string
	anns     map[string][]types.Annotation
	order    []string
	orphans  []Orphan
	invalid  []Problem
	badBoxes []Problem
	kinds    Kinds

	skippedInvalidImage int
	categoryCounts      map[string]int
}

// Build indexes the payload. Every image in the result has a file name and
// positive width and height.
func Build(p *types.Payload, opts Options) (*Index, error) {
	idx := &Index{
		images:         make(map[string]types.Image, len(p.Images)),
		byFile:         make(map[string]string, len(p.Images)),
		byStem:         make(map[string]string, len(p.Images)),
		anns:           make(map[string][]types.Annotation, len(p.Images)),
		categoryCounts: make(map[string]int),
		kinds: Kinds{
			Images:     make(map[types.IDKind]int),
			References: make(map[types.IDKind]int),
		},
	}

	rejected := make(map[string]Problem)
	for _, m := range p.MalformedImages {
		if !m.ID.IsZero() {
			idx.kinds.Images[m.ID.Kind]++
		}
		idx.reject(rejected, Problem{ID: m.ID.String(), FileName: m.FileName, Err: m.Err})
	}
	for _, img := range p.Images {
		if !img.ID.IsZero() {
			idx.kinds.Images[img.ID.Kind]++
		}
		id := img.ID.String()
		if err := img.Validate(); err != nil {
			idx.reject(rejected, Problem{ID: id, FileName: img.FileName, Err: err})
			continue
		}
		if _, dup := idx.images[id]; dup {
			idx.reject(rejected, Problem{ID: id, FileName: img.FileName,
				Err: fmt.Errorf("%w: duplicate image id %s", types.ErrDatasetFormat, id)})
			continue
		}
		// Labels are keyed by stem, so a.jpg and a.png would share one label file.
		stem := img.Stem()
		if other, dup := idx.byStem[stem]; dup {
			idx.reject(rejected, Problem{ID: id, FileName: img.FileName,
				Err: fmt.Errorf("%w: image %s reuses file stem %s of image %s", types.ErrDatasetFormat, id, stem, other)})
			continue
		}
		idx.images[id] = img
		idx.byFile[filepath.Base(img.FileName)] = id
		idx.byStem[stem] = id
		idx.order = append(idx.order, id)
	}
	sort.Strings(idx.order)

	var strictErrs []error
	for _, m := range p.MalformedAnnotations {
		idx.badBoxes = append(idx.badBoxes, Problem{ID: m.ID.String(), Err: m.Err})
	}
	for _, ann := range p.Annotations {
		if ann.ImageID.IsZero() {
			idx.badBoxes = append(idx.badBoxes, Problem{ID: ann.ID.String(),
				Err: fmt.Errorf("%w: annotation %s has no image_id", types.ErrDatasetFormat, ann.ID)})
			continue
		}
		idx.kinds.References[ann.ImageID.Kind]++
		imageID := ann.ImageID.String()

		if _, ok := idx.images[imageID]; !ok {
			if prob, bad := rejected[imageID]; bad {
				idx.skippedInvalidImage++
				if opts.Strict {
					strictErrs = append(strictErrs, prob.Err)
				}
				continue
			}
			idx.orphans = append(idx.orphans, Orphan{AnnotationID: ann.ID.String(), ImageID: imageID})
			continue
		}
		if _, err := ann.Box(); err != nil {
			idx.badBoxes = append(idx.badBoxes, Problem{ID: ann.ID.String(), FileName: idx.images[imageID].FileName, Err: err})
			continue
		}
		idx.anns[imageID] = append(idx.anns[imageID], ann)
		idx.categoryCounts[ann.CategoryID.String()]++
	}

	if len(strictErrs) > 0 {
		return nil, errors.Join(strictErrs...)
	}
	return idx, nil
}

func (idx *Index) reject(rejected map[string]Problem, p Problem) {
	idx.invalid = append(idx.invalid, p)
	if _, seen := rejected[p.ID]; !seen && p.ID != "" {
		rejected[p.ID] = p
	}
}

// Images returns the indexed images ordered by canonical id.
func (idx *Index) Images() []types.Image {
	out := make([]types.Image, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.images[id])
	}
	return out
}

// Len returns the number of indexed images.
func (idx *Index) Len() int { return len(idx.order) }

// Lookup returns the image with the given canonical id.
func (idx *Index) Lookup(id string) (types.Image, bool) {
	img, ok := idx.images[id]
	return img, ok
}

// ByFileName returns the image whose file name has the given base name.
func (idx *Index) ByFileName(name string) (types.Image, bool) {
	id, ok := idx.byFile[filepath.Base(name)]
	if !ok {
		return types.Image{}, false
	}
	return idx.images[id], true
}

// ByStem returns the image whose file name has the given stem.
func (idx *Index) ByStem(stem string) (types.Image, bool) {
	id, ok := idx.byStem[stem]
	if !ok {
		return types.Image{}, false
	}
	return idx.images[id], true
}

// Annotations returns the annotations of an image in payload order.
func (idx *Index) Annotations(id string) []types.Annotation {
	return idx.anns[id]
}

// Annotated returns the number of images with at least one annotation.
func (idx *Index) Annotated() int { return len(idx.anns) }

// AnnotationCount returns the number of indexed annotations.
func (idx *Index) AnnotationCount() int {
	n := 0
	for _, a := range idx.anns {
		n += len(a)
	}
	return n
}

// Orphans returns annotations that reference unknown images.
func (idx *Index) Orphans() []Orphan { return idx.orphans }

// OrphanErr aggregates orphans into one ErrOrphanedReference, or nil.
func (idx *Index) OrphanErr() error {
	if len(idx.orphans) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d annotations reference unknown images (first: image_id %s)",
		types.ErrOrphanedReference, len(idx.orphans), idx.orphans[0].ImageID)
}

// Invalid returns images excluded for bad metadata.
func (idx *Index) Invalid() []Problem { return idx.invalid }

// InvalidAnnotations returns annotations that failed to decode or were excluded
// for a bad bbox or missing image_id.
func (idx *Index) InvalidAnnotations() []Problem { return idx.badBoxes }

// SkippedInvalidImage returns how many annotations referenced an excluded image.
func (idx *Index) SkippedInvalidImage() int { return idx.skippedInvalidImage }

// IDKinds returns identifier spelling counts.
func (idx *Index) IDKinds() Kinds { return idx.kinds }

// CategoryCounts returns indexed annotations per canonical category id.
func (idx *Index) CategoryCounts() map[string]int {
	out := make(map[string]int, len(idx.categoryCounts))
	for k, v := range idx.categoryCounts {
		out[k] = v
	}
	return out
}
