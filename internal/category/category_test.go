package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func ind(n int) *int { return &n }

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		cats    []types.Category
		want    map[string]int
		wantErr bool
	}{
		{
			name: "explicit index wins over id",
			cats: []types.Category{
				{ID: types.NumberID(5), Name: "apple", Index: ind(0)},
				{ID: types.NumberID(7), Name: "pear", Index: ind(1)},
			},
			want: map[string]int{"5": 0, "7": 1},
		},
		{
			name: "id used as zero-based index",
			cats: []types.Category{
				{ID: types.NumberID(1), Name: "b"},
				{ID: types.NumberID(0), Name: "a"},
			},
			want: map[string]int{"0": 0, "1": 1},
		},
		{
			name: "string ids resolve through explicit index",
			cats: []types.Category{
				{ID: types.StringID("cat-a"), Name: "a", Index: ind(0)},
			},
			want: map[string]int{"cat-a": 0},
		},
		{
			name: "mixed precedence",
			cats: []types.Category{
				{ID: types.NumberID(0), Name: "a"},
				{ID: types.NumberID(42), Name: "b", Index: ind(1)},
			},
			want: map[string]int{"0": 0, "42": 1},
		},
		{name: "empty list", cats: nil, wantErr: true},
		{
			name: "gap in indices",
			cats: []types.Category{
				{ID: types.NumberID(0), Name: "a"},
				{ID: types.NumberID(2), Name: "c"},
			},
			wantErr: true,
		},
		{
			name: "not starting at zero",
			cats: []types.Category{
				{ID: types.NumberID(1), Name: "a"},
				{ID: types.NumberID(2), Name: "b"},
			},
			wantErr: true,
		},
		{
			name: "duplicate resolved index",
			cats: []types.Category{
				{ID: types.NumberID(0), Name: "a"},
				{ID: types.NumberID(9), Name: "b", Index: ind(0)},
			},
			wantErr: true,
		},
		{
			name: "duplicate raw id across kinds",
			cats: []types.Category{
				{ID: types.NumberID(0), Name: "a"},
				{ID: types.StringID("0"), Name: "b", Index: ind(1)},
			},
			wantErr: true,
		},
		{
			name:    "non-integer id without index",
			cats:    []types.Category{{ID: types.StringID("apple"), Name: "apple"}},
			wantErr: true,
		},
		{
			name:    "negative explicit index",
			cats:    []types.Category{{ID: types.NumberID(0), Name: "a", Index: ind(-1)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Resolve(tt.cats)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, types.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), m.Len())
			for rawID, idx := range tt.want {
				rc, ok := m.Lookup(rawID)
				require.True(t, ok, "raw id %s", rawID)
				assert.Equal(t, idx, rc.Index)
			}
		})
	}
}

func TestResolvedIndicesAreExactlyZeroToN(t *testing.T) {
	cats := make([]types.Category, 0, 20)
	for i := 19; i >= 0; i-- {
		cats = append(cats, types.Category{ID: types.NumberID(int64(100 + i)), Name: "c", Index: ind(i)})
	}
	m, err := Resolve(cats)
	require.NoError(t, err)

	sorted := m.Sorted()
	require.Len(t, sorted, 20)
	for i, rc := range sorted {
		assert.Equal(t, i, rc.Index)
	}
	assert.Len(t, m.Names(), 20)
}

func TestLookupUnknown(t *testing.T) {
	m, err := Resolve([]types.Category{{ID: types.NumberID(0), Name: "a"}})
	require.NoError(t, err)
	_, ok := m.Lookup("1")
	assert.False(t, ok)
}
