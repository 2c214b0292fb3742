package audit

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func remediationFixture(t *testing.T) (afero.Fs, *Report) {
	t.Helper()
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/empty.jpg", "x")
	write(t, fs, "/data/labels/train/empty.txt", "")
	write(t, fs, "/data/images/train/bare.jpg", "x")
	write(t, fs, "/data/images/val/v.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "0 0.5 0.5 0.2 0.2\n")

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	return fs, rep
}

func snapshot(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	var paths []string
	require.NoError(t, afero.Walk(fs, "/data", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, path)
		}
		return nil
	}))
	return paths
}

func TestRemediate_DryRunMutatesNothing(t *testing.T) {
	fs, rep := remediationFixture(t)
	before := snapshot(t, fs)

	rem, err := Remediate(context.Background(), rep, RemediationOptions{
		Fs: fs, Config: testConfig(), Mode: types.ModeDryRun, QuarantineEmpty: true, MoveUnannotated: true,
	})
	require.NoError(t, err)

	assert.Equal(t, before, snapshot(t, fs))
	require.Len(t, rem.Actions, 2)
	for _, a := range rem.Actions {
		assert.Equal(t, StatusPlanned, a.Status)
	}
	assert.Zero(t, rem.Moved)
}

func TestRemediate_Commit(t *testing.T) {
	fs, rep := remediationFixture(t)

	rem, err := Remediate(context.Background(), rep, RemediationOptions{
		Fs: fs, Config: testConfig(), Mode: types.ModeCommit, QuarantineEmpty: true, MoveUnannotated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rem.Moved)

	for path, want := range map[string]bool{
		"/data/labels/train_backup_empty/empty.txt": true,
		"/data/labels/train/empty.txt":              false,
		"/data/images/train_unannotated/bare.jpg":   true,
		"/data/images/train/bare.jpg":               false,
		"/data/images/train/empty.jpg":              true,
	} {
		ok, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.Equal(t, want, ok, path)
	}

	again, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	assert.Empty(t, again.Of(KindEmptyLabel))
}

func TestRemediate_OnlyRequestedActions(t *testing.T) {
	fs, rep := remediationFixture(t)

	rem, err := Remediate(context.Background(), rep, RemediationOptions{Fs: fs, Config: testConfig(), Mode: types.ModeCommit})
	require.NoError(t, err)
	assert.Empty(t, rem.Actions)
}

func TestRemediate_NeverOverwrites(t *testing.T) {
	fs, rep := remediationFixture(t)
	write(t, fs, "/data/labels/train_backup_empty/empty.txt", "keep")

	rem, err := Remediate(context.Background(), rep, RemediationOptions{
		Fs: fs, Config: testConfig(), Mode: types.ModeCommit, QuarantineEmpty: true,
	})
	require.NoError(t, err)
	require.Len(t, rem.Actions, 1)
	assert.Equal(t, StatusSkipped, rem.Actions[0].Status)
	assert.Equal(t, 1, rem.Skipped)

	data, err := afero.ReadFile(fs, "/data/labels/train_backup_empty/empty.txt")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestRemediate_InvalidMode(t *testing.T) {
	_, err := Remediate(context.Background(), &Report{}, RemediationOptions{Mode: types.Mode(7)})
	assert.ErrorIs(t, err, types.ErrInvalidMode)
}
