package annotation

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func decode(t *testing.T, raw string) *types.Payload {
	t.Helper()
	var p types.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func TestBuild_StringReferenceJoinsIntegerImage(t *testing.T) {
	p := decode(t, `{
		"images": [{"id": 2, "file_name": "b.jpg", "width": 50, "height": 50}],
		"annotations": [{"id": 1, "image_id": "2", "category_id": 0, "bbox": [1, 2, 3, 4]}],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	idx, err := Build(p, Options{})
	require.NoError(t, err)

	anns := idx.Annotations("2")
	require.Len(t, anns, 1, "string image_id must join the integer image id")
	assert.Empty(t, idx.Orphans())
	assert.True(t, idx.IDKinds().Mismatch())
}

func TestBuild_NaiveComparisonWouldDrop(t *testing.T) {
	// Regression guard: raw kinds differ, so a join on raw values finds nothing.
	p := decode(t, `{
		"images": [{"id": 2, "file_name": "b.jpg", "width": 50, "height": 50}],
		"annotations": [{"image_id": "2", "category_id": 0, "bbox": [1, 2, 3, 4]}]
	}`)
	assert.NotEqual(t, p.Images[0].ID, p.Annotations[0].ImageID)
	assert.Equal(t, p.Images[0].ID.String(), p.Annotations[0].ImageID.String())
}

func TestBuild_Orphans(t *testing.T) {
	p := decode(t, `{
		"images": [{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10}],
		"annotations": [
			{"id": 1, "image_id": 1, "category_id": 0, "bbox": [0, 0, 1, 1]},
			{"id": 2, "image_id": 99, "category_id": 0, "bbox": [0, 0, 1, 1]},
			{"id": 3, "image_id": 98, "category_id": 0, "bbox": [0, 0, 1, 1]}
		]
	}`)
	idx, err := Build(p, Options{Strict: true})
	require.NoError(t, err, "orphans are never fatal")

	require.Len(t, idx.Orphans(), 2)
	assert.Equal(t, "99", idx.Orphans()[0].ImageID)
	assert.ErrorIs(t, idx.OrphanErr(), types.ErrOrphanedReference)
	assert.Equal(t, 1, idx.AnnotationCount())
	assert.False(t, idx.IDKinds().Mismatch())
}

func TestBuild_InvalidDimensions(t *testing.T) {
	raw := `{
		"images": [
			{"id": 1, "file_name": "a.jpg", "width": 0, "height": 10},
			{"id": 2, "file_name": "b.jpg", "height": 10},
			{"id": 3, "file_name": "c.jpg", "width": 10, "height": 10}
		],
		"annotations": [
			{"image_id": 1, "category_id": 0, "bbox": [0, 0, 1, 1]},
			{"image_id": 3, "category_id": 0, "bbox": [0, 0, 1, 1]}
		]
	}`

	t.Run("lenient skips and counts", func(t *testing.T) {
		idx, err := Build(decode(t, raw), Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, idx.Len())
		require.Len(t, idx.Invalid(), 2)
		assert.ErrorIs(t, idx.Invalid()[0].Err, types.ErrDatasetFormat)
		assert.Equal(t, 1, idx.SkippedInvalidImage())
		for _, img := range idx.Images() {
			assert.Positive(t, img.Width)
			assert.Positive(t, img.Height)
		}
	})

	t.Run("strict fails for referenced image", func(t *testing.T) {
		_, err := Build(decode(t, raw), Options{Strict: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrDatasetFormat)
	})
}

func TestBuild_DuplicateImages(t *testing.T) {
	p := decode(t, `{
		"images": [
			{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10},
			{"id": "1", "file_name": "z.jpg", "width": 10, "height": 10},
			{"id": 2, "file_name": "a.png", "width": 10, "height": 10}
		]
	}`)
	idx, err := Build(p, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	assert.Len(t, idx.Invalid(), 2)

	img, ok := idx.ByStem("a")
	require.True(t, ok)
	assert.Equal(t, "a.jpg", img.FileName)
}

func TestBuild_BadBoxesExcluded(t *testing.T) {
	p := decode(t, `{
		"images": [{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10}],
		"annotations": [
			{"id": 1, "image_id": 1, "category_id": 0, "bbox": [0, 0, 1]},
			{"id": 2, "category_id": 0, "bbox": [0, 0, 1, 1]},
			{"id": 3, "image_id": 1, "category_id": 4, "bbox": [0, 0, 1, 1]}
		]
	}`)
	idx, err := Build(p, Options{})
	require.NoError(t, err)
	assert.Len(t, idx.InvalidAnnotations(), 2)
	assert.Len(t, idx.Annotations("1"), 1)
	assert.Equal(t, map[string]int{"4": 1}, idx.CategoryCounts())
}

func TestIndexLookups(t *testing.T) {
	p := decode(t, `{
		"images": [
			{"id": "b", "file_name": "dir/two.jpg", "width": 10, "height": 10},
			{"id": "a", "file_name": "one.jpg", "width": 10, "height": 10}
		]
	}`)
	idx, err := Build(p, Options{})
	require.NoError(t, err)

	images := idx.Images()
	require.Len(t, images, 2)
	assert.Equal(t, "a", images[0].ID.String())

	img, ok := idx.ByFileName("two.jpg")
	require.True(t, ok)
	assert.Equal(t, "b", img.ID.String())

	_, ok = idx.Lookup("c")
	assert.False(t, ok)
	assert.Zero(t, idx.Annotated())
}

func TestBuild_MalformedRecordsCountAsInvalid(t *testing.T) {
	p := decode(t, `{
		"images": [{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10}],
		"annotations": [
			{"id": 10, "image_id": 1, "category_id": 0, "bbox": [0, 0, 5, 5]},
			{"id": 11, "image_id": 2, "category_id": 0, "bbox": [0, 0, 5, 5]}
		]
	}`)
	p.MalformedImages = []types.Malformed{{Index: 1, ID: types.NumberID(2), FileName: "b.jpg", Err: types.ErrDatasetFormat}}
	p.MalformedAnnotations = []types.Malformed{{Index: 2, ID: types.NumberID(12), Err: types.ErrDatasetFormat}}

	idx, err := Build(p, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
	require.Len(t, idx.Invalid(), 1)
	assert.Equal(t, "2", idx.Invalid()[0].ID)
	assert.Equal(t, "b.jpg", idx.Invalid()[0].FileName)
	require.Len(t, idx.InvalidAnnotations(), 1)
	assert.Equal(t, "12", idx.InvalidAnnotations()[0].ID)

	assert.Empty(t, idx.Orphans(), "a reference to a malformed image is not an orphan")
	assert.Equal(t, 1, idx.SkippedInvalidImage())

	_, err = Build(p, Options{Strict: true})
	assert.ErrorIs(t, err, types.ErrDatasetFormat)
}
