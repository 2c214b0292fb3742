package split

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.DatasetRoot = "/data"
	cfg.ValFraction = 0.2
	cfg.SplitSeed = 42
	return cfg
}

func seed(t *testing.T, fs afero.Fs, split string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		stem := fmt.Sprintf("img%02d", i)
		require.NoError(t, afero.WriteFile(fs, "/data/images/"+split+"/"+stem+".jpg", []byte("x"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/data/labels/"+split+"/"+stem+".txt", []byte("0 0.5 0.5 0.1 0.1\n"), 0o644))
	}
}

func stems(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var out []string
	for _, info := range infos {
		out = append(out, types.Stem(info.Name()))
	}
	sort.Strings(out)
	return out
}

func TestOrganize_CommitKeepsBijection(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 10)

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig(), Mode: types.ModeCommit})
	require.NoError(t, err)

	assert.Equal(t, 10, res.Universe)
	assert.Equal(t, 2, res.Val)
	assert.Equal(t, 8, res.Train)
	assert.Equal(t, 2, res.Moved)
	assert.Equal(t, Count{Images: 8, Labels: 8}, res.Counts["train"])
	assert.Equal(t, Count{Images: 2, Labels: 2}, res.Counts["val"])
	assert.Equal(t, stems(t, fs, "/data/images/val"), stems(t, fs, "/data/labels/val"))
	assert.Equal(t, stems(t, fs, "/data/images/train"), stems(t, fs, "/data/labels/train"))
}

func TestOrganize_RerunMovesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 25)
	opts := Options{Fs: fs, Config: testConfig(), Mode: types.ModeCommit}

	first, err := Organize(context.Background(), opts)
	require.NoError(t, err)
	require.NotEmpty(t, first.Moves)

	again, err := Organize(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, again.Moves)
	assert.Zero(t, again.Moved)
}

func TestOrganize_AssignmentIndependentOfStartingSplit(t *testing.T) {
	fromTrain := afero.NewMemMapFs()
	seed(t, fromTrain, "train", 12)
	fromVal := afero.NewMemMapFs()
	seed(t, fromVal, "val", 12)

	for _, fs := range []afero.Fs{fromTrain, fromVal} {
		_, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig(), Mode: types.ModeCommit})
		require.NoError(t, err)
	}
	assert.Equal(t, stems(t, fromTrain, "/data/images/val"), stems(t, fromVal, "/data/images/val"))
}

func TestOrganize_DryRunPlansOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 10)

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)

	require.Len(t, res.Moves, 2)
	for _, mv := range res.Moves {
		assert.Equal(t, StatusPlanned, mv.Status)
		assert.Equal(t, "train", mv.From)
		assert.Equal(t, "val", mv.To)
	}
	assert.Len(t, stems(t, fs, "/data/images/train"), 10)
	exists, err := afero.DirExists(fs, "/data/images/val")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOrganize_ExcludedFilesAreReported(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 5)
	require.NoError(t, afero.WriteFile(fs, "/data/images/train/nolabel.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/images/train/blank.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/labels/train/blank.txt", nil, 0o644))

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Universe)

	reasons := map[string]string{}
	for _, p := range res.Problems {
		reasons[p.Stem] = p.Reason
	}
	assert.Equal(t, "missing label", reasons["nolabel"])
	assert.Equal(t, "empty label", reasons["blank"])
}

func TestOrganize_IntegrityFailureAfterCommit(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 5)
	require.NoError(t, afero.WriteFile(fs, "/data/images/train/nolabel.jpg", []byte("x"), 0o644))

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig(), Mode: types.ModeCommit})
	require.ErrorIs(t, err, types.ErrSplitIntegrity)
	assert.Contains(t, err.Error(), "nolabel")
	assert.Equal(t, 1, res.Moved, "completed moves are kept")
}

func TestOrganize_InvalidFraction(t *testing.T) {
	for _, f := range []float64{0, 1, -0.5, 1.5} {
		t.Run(fmt.Sprint(f), func(t *testing.T) {
			cfg := testConfig()
			cfg.ValFraction = f
			_, err := Organize(context.Background(), Options{Fs: afero.NewMemMapFs(), Config: cfg})
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestOrganize_CollisionSkipsPair(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 10)
	plan, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Moves)
	blocked := plan.Moves[0]
	require.NoError(t, afero.WriteFile(fs, blocked.Label.To, []byte("0 0.1 0.1 0.1 0.1\n"), 0o644))

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	var skipped []string
	for _, mv := range res.Moves {
		if mv.Status == StatusSkipped {
			skipped = append(skipped, mv.Stem)
		}
	}
	assert.Equal(t, []string{blocked.Stem}, skipped)
}

func TestValCount(t *testing.T) {
	tests := []struct {
		n    int
		f    float64
		want int
	}{
		{100, 0.07, 7},
		{50, 0.14, 7},
		{10, 0.3, 3},
		{100, 0.29, 29},
		{10, 0.2, 2},
		{3, 0.5, 2},
		{1, 0.01, 1},
		{0, 0.2, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d*%v", tt.n, tt.f), func(t *testing.T) {
			assert.Equal(t, tt.want, valCount(tt.n, tt.f))
		})
	}
}

func TestOrganize_ValSizeIsExactCeiling(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 100)
	cfg := testConfig()
	cfg.ValFraction = 0.07

	res, err := Organize(context.Background(), Options{Fs: fs, Config: cfg, Mode: types.ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Val)
	assert.Equal(t, 93, res.Train)
	assert.Len(t, res.Moves, 7)
}

func TestOrganize_StemInBothSplitsReportsEachCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	seed(t, fs, "train", 3)
	require.NoError(t, afero.WriteFile(fs, "/data/images/val/img01.jpg", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/data/labels/val/img01.txt", []byte("0 0.5 0.5 0.1 0.1\n"), 0o644))

	res, err := Organize(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Universe)

	var splits []string
	for _, p := range res.Problems {
		if p.Stem == "img01" {
			assert.Equal(t, "stem present in more than one split", p.Reason)
			splits = append(splits, p.Split)
		}
	}
	assert.ElementsMatch(t, []string{"train", "val"}, splits)
}
