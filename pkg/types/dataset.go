package types

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Payload is the annotation document: three ordered collections read once
// per run and never modified. Records that could not be decoded are kept
// aside in the Malformed lists instead of failing the whole document.
type Payload struct {
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories"`

	MalformedImages      []Malformed `json:"-"`
	MalformedAnnotations []Malformed `json:"-"`
}

// Malformed is a collection element whose fields have the wrong JSON types.
// ID and FileName are filled when they could still be read.
type Malformed struct {
	Index    int
	ID       ID
	FileName string
	Err      error
}

// Category is a detectable object class as supplied by the payload.
// Index is the optional explicit class index ("ind").
type Category struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Index *int   `json:"ind,omitempty"`
}

// ResolvedCategory is a category with its contiguous zero-based class index.
type ResolvedCategory struct {
	ID    string
	Name  string
	Index int
}

// Image is the metadata for one image file.
type Image struct {
	ID       ID     `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Stem returns the base file name without its extension. Images and labels
// are paired solely by stem.
func (img Image) Stem() string {
	return Stem(img.FileName)
}

// Validate checks the fields required for normalization.
func (img Image) Validate() error {
	if img.ID.IsZero() {
		return fmt.Errorf("%w: image %q has no id", ErrDatasetFormat, img.FileName)
	}
	if strings.TrimSpace(img.FileName) == "" {
		return fmt.Errorf("%w: image %s has no file_name", ErrDatasetFormat, img.ID)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("%w: image %s (%s) has non-positive dimensions %dx%d",
			ErrDatasetFormat, img.ID, img.FileName, img.Width, img.Height)
	}
	return nil
}

// Annotation is one object instance. BBox is (x_min, y_min, width, height) in pixels.
type Annotation struct {
	ID         ID        `json:"id"`
	ImageID    ID        `json:"image_id"`
	CategoryID ID        `json:"category_id"`
	BBox       []float64 `json:"bbox"`
}

// Box returns the pixel box, or ErrDatasetFormat when the bbox is not four
// finite, non-negative numbers.
func (a Annotation) Box() (BBox, error) {
	if len(a.BBox) != 4 {
		return BBox{}, fmt.Errorf("%w: annotation %s has %d bbox values, want 4",
			ErrDatasetFormat, a.ID, len(a.BBox))
	}
	for _, v := range a.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return BBox{}, fmt.Errorf("%w: annotation %s has invalid bbox %v",
				ErrDatasetFormat, a.ID, a.BBox)
		}
	}
	return BBox{X: a.BBox[0], Y: a.BBox[1], W: a.BBox[2], H: a.BBox[3]}, nil
}

// Stem returns name without directory and extension.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
