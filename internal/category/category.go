// Package category resolves payload categories to contiguous zero-based class
// indices.
package category

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Mapping is an immutable raw category id -> class index table.
type Mapping struct {
	byID    map[string]types.ResolvedCategory
	ordered []types.ResolvedCategory
}

// Resolve builds the mapping. Each category's index comes from its explicit
// "ind" field when present, otherwise from the raw id read as an already
// zero-based integer. The resolved indices must be exactly {0..n-1}; anything
// else is an ErrConfiguration rather than a guess.
func Resolve(cats []types.Category) (*Mapping, error) {
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: payload has no categories", types.ErrConfiguration)
	}

	m := &Mapping{byID: make(map[string]types.ResolvedCategory, len(cats))}
	byIndex := make(map[int]string, len(cats))

	for _, c := range cats {
		if c.ID.IsZero() {
			return nil, fmt.Errorf("%w: category %q has no id", types.ErrConfiguration, c.Name)
		}
		rawID := c.ID.String()
		if _, dup := m.byID[rawID]; dup {
			return nil, fmt.Errorf("%w: duplicate category id %s", types.ErrConfiguration, rawID)
		}

		idx, err := resolveIndex(c)
		if err != nil {
			return nil, err
		}
		if other, dup := byIndex[idx]; dup {
			return nil, fmt.Errorf("%w: categories %s and %s both resolve to index %d",
				types.ErrConfiguration, other, rawID, idx)
		}
		byIndex[idx] = rawID

		rc := types.ResolvedCategory{ID: rawID, Name: c.Name, Index: idx}
		m.byID[rawID] = rc
		m.ordered = append(m.ordered, rc)
	}

	sort.Slice(m.ordered, func(i, j int) bool { return m.ordered[i].Index < m.ordered[j].Index })
	for want, rc := range m.ordered {
		if rc.Index != want {
			return nil, fmt.Errorf("%w: class indices are not contiguous: index %d is missing (next is %d for category %s)",
				types.ErrConfiguration, want, rc.Index, rc.ID)
		}
	}
	return m, nil
}

func resolveIndex(c types.Category) (int, error) {
	if c.Index != nil {
		if *c.Index < 0 {
			return 0, fmt.Errorf("%w: category %s has negative index %d", types.ErrConfiguration, c.ID, *c.Index)
		}
		return *c.Index, nil
	}
	idx, ok := c.ID.Int()
	if !ok {
		return 0, fmt.Errorf("%w: category %s has no explicit index and its id is not an integer",
			types.ErrConfiguration, c.ID)
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: category %s has negative id and no explicit index", types.ErrConfiguration, c.ID)
	}
	return idx, nil
}

// Lookup returns the resolved category for a canonical raw id.
func (m *Mapping) Lookup(rawID string) (types.ResolvedCategory, bool) {
	rc, ok := m.byID[rawID]
	return rc, ok
}

// Len returns the number of classes.
func (m *Mapping) Len() int { return len(m.ordered) }

// Sorted returns the categories ordered by class index.
func (m *Mapping) Sorted() []types.ResolvedCategory {
	return append([]types.ResolvedCategory(nil), m.ordered...)
}

// Names returns class index -> name.
func (m *Mapping) Names() map[int]string {
	names := make(map[int]string, len(m.ordered))
	for _, rc := range m.ordered {
		names[rc.Index] = rc.Name
	}
	return names
}
