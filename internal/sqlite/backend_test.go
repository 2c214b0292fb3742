package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func attach(t *testing.T, dir string) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(dir))
	t.Cleanup(func() { b.Detach() })
	return b
}

func newRun(command string, started time.Time) *types.Run {
	return &types.Run{
		Command:    command,
		Root:       "/data",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Summary:    json.RawMessage(`{"labels_written":3}`),
	}
}

func TestBackend_AttachDetach(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")

	b := NewBackend()
	require.NoError(t, b.Attach(dir))
	assert.FileExists(t, filepath.Join(dir, dbFile))
	assert.FileExists(t, filepath.Join(dir, runsJSONL))
	assert.FileExists(t, filepath.Join(dir, findingsJSONL))
	assert.ErrorIs(t, b.Attach(dir), types.ErrAlreadyAttached)

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach(), "Detach is idempotent")

	_, err := b.ListRuns(types.RunFilter{})
	assert.ErrorIs(t, err, types.ErrLedgerDetached)
	assert.ErrorIs(t, b.RecordRun(newRun("convert", time.Now()), nil), types.ErrLedgerDetached)
}

func TestBackend_AttachRequiresDirectory(t *testing.T) {
	assert.ErrorIs(t, NewBackend().Attach(""), types.ErrConfiguration)
}

func TestBackend_RecordAndList(t *testing.T) {
	b := attach(t, t.TempDir())
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := newRun("convert", start)
	require.NoError(t, b.RecordRun(first, nil))
	require.NotEmpty(t, first.ID)
	assert.Equal(t, types.RunStatusOK, first.Status)

	second := newRun("audit", start.Add(time.Minute))
	second.Status = types.RunStatusFailed
	second.Error = "critical findings"
	require.NoError(t, b.RecordRun(second, []types.RunFinding{
		{Kind: "id_type_mismatch", Severity: "critical", Detail: "ids differ"},
		{Kind: "empty_label", Severity: "info", Split: "train", Stem: "a", Detail: "processed, no objects"},
	}))

	runs, err := b.ListRuns(types.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID, "newest first")
	assert.Equal(t, "critical findings", runs[0].Error)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Duration())
	assert.JSONEq(t, `{"labels_written":3}`, string(runs[1].Summary))

	audits, err := b.ListRuns(types.RunFilter{Command: "audit"})
	require.NoError(t, err)
	require.Len(t, audits, 1)

	limited, err := b.ListRuns(types.RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	findings, err := b.Findings(second.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, 0, findings[0].Seq)
	assert.Equal(t, "id_type_mismatch", findings[0].Kind)
	assert.Equal(t, "train", findings[1].Split)
	assert.Equal(t, second.ID, findings[1].RunID)
}

func TestBackend_PersistsAcrossAttach(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	b := NewBackend()
	require.NoError(t, b.Attach(dir))
	run := newRun("split", start)
	run.Mode = "commit"
	require.NoError(t, b.RecordRun(run, []types.RunFinding{{Kind: "orphan_label", Severity: "warning", Detail: "x"}}))
	require.NoError(t, b.Detach())

	reopened := attach(t, dir)
	got, err := reopened.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "split", got.Command)
	assert.Equal(t, "commit", got.Mode)
	assert.True(t, start.Equal(got.StartedAt))
	assert.JSONEq(t, `{"labels_written":3}`, string(got.Summary))

	findings, err := reopened.Findings(run.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "orphan_label", findings[0].Kind)
}

func TestBackend_GetRunByPrefix(t *testing.T) {
	b := attach(t, t.TempDir())
	run := newRun("convert", time.Now())
	require.NoError(t, b.RecordRun(run, nil))

	got, err := b.GetRun(run.ID[:13])
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, err = b.GetRun("ffffffff-0000")
	assert.ErrorIs(t, err, types.ErrRunNotFound)
	_, err = b.GetRun("")
	assert.ErrorIs(t, err, types.ErrRunNotFound)

	other := newRun("audit", time.Now())
	other.ID = run.ID[:13] + "-aaaa"
	require.NoError(t, b.RecordRun(other, nil))
	_, err = b.GetRun(run.ID[:13])
	assert.ErrorIs(t, err, types.ErrAmbiguousRunID)
}

func TestBackend_SkipsMalformedJSONL(t *testing.T) {
	dir := t.TempDir()
	content := `{"run_id":"r1","command":"convert","root":"/data","status":"ok","started_at":"2026-03-01T10:00:00Z","finished_at":"2026-03-01T10:00:01Z"}
not json
{"run_id":"r2","command":"audit"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, runsJSONL), []byte(content), 0o644))

	b := attach(t, dir)
	runs, err := b.ListRuns(types.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1, "records missing required columns are skipped")
	assert.Equal(t, "r1", runs[0].ID)
}
