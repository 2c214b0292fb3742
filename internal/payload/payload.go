// Package payload loads the annotation document.
package payload

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Load reads and decodes the payload at path. A document that is not valid
// JSON, or lacks an images collection, is an ErrDatasetFormat.
func Load(fs afero.Fs, path string) (*types.Payload, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading payload %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a payload document. Image and annotation elements are decoded
// one at a time; an element with a wrongly typed field is recorded in the
// payload's Malformed lists and the rest of the document is kept.
func Decode(data []byte) (*types.Payload, error) {
	var doc struct {
		Images      *[]json.RawMessage `json:"images"`
		Annotations []json.RawMessage  `json:"annotations"`
		Categories  []types.Category   `json:"categories"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decoding payload: %v", types.ErrDatasetFormat, err)
	}
	if doc.Images == nil {
		return nil, fmt.Errorf("%w: payload has no images collection", types.ErrDatasetFormat)
	}

	p := &types.Payload{
		Images:      make([]types.Image, 0, len(*doc.Images)),
		Annotations: make([]types.Annotation, 0, len(doc.Annotations)),
		Categories:  doc.Categories,
	}
	for i, raw := range *doc.Images {
		var img types.Image
		if err := json.Unmarshal(raw, &img); err != nil {
			p.MalformedImages = append(p.MalformedImages, malformed("image", i, raw, err))
			continue
		}
		p.Images = append(p.Images, img)
	}
	for i, raw := range doc.Annotations {
		var ann types.Annotation
		if err := json.Unmarshal(raw, &ann); err != nil {
			p.MalformedAnnotations = append(p.MalformedAnnotations, malformed("annotation", i, raw, err))
			continue
		}
		p.Annotations = append(p.Annotations, ann)
	}
	return p, nil
}

// malformed reads whatever of id and file_name still decodes.
func malformed(what string, i int, raw json.RawMessage, err error) types.Malformed {
	m := types.Malformed{
		Index: i,
		Err:   fmt.Errorf("%w: %s %d: %v", types.ErrDatasetFormat, what, i, err),
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return m
	}
	if v, ok := fields["id"]; ok {
		_ = json.Unmarshal(v, &m.ID)
	}
	if v, ok := fields["file_name"]; ok {
		_ = json.Unmarshal(v, &m.FileName)
	}
	return m
}
