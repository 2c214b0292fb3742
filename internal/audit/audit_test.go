package audit

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/labelkit/internal/manifest"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

func testConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.DatasetRoot = "/data"
	return cfg
}

func payloadOf(t *testing.T, raw string) *types.Payload {
	t.Helper()
	var p types.Payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return &p
}

func write(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func kindsOf(findings []Finding) []Kind {
	out := make([]Kind, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func TestAudit_EmptyLabelIsProcessedNoObjects(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/img1.jpg", "x")
	write(t, fs, "/data/labels/train/img1.txt", "")
	write(t, fs, "/data/images/val/v.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "0 0.5 0.5 0.2 0.2\n")
	p := payloadOf(t, `{
		"images": [{"id": 9, "file_name": "other.jpg", "width": 10, "height": 10}],
		"annotations": [],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Payload: p})
	require.NoError(t, err)

	require.Equal(t, []Kind{KindEmptyLabel}, kindsOf(rep.Findings))
	f := rep.Findings[0]
	assert.Equal(t, "processed, no objects", f.Detail)
	assert.Equal(t, "train", f.Split)
	assert.Equal(t, "img1", f.Stem)
	assert.Equal(t, SeverityInfo, f.Severity)
	assert.Equal(t, SplitStats{Images: 1, Labels: 1, EmptyLabels: 1}, rep.Splits["train"])
}

func TestAudit_MissingLabelVersusUnprocessed(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/known.jpg", "x")
	write(t, fs, "/data/images/train/stray.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "0 0.5 0.5 0.2 0.2\n")
	write(t, fs, "/data/images/val/v.jpg", "x")
	p := payloadOf(t, `{
		"images": [{"id": 1, "file_name": "known.jpg", "width": 10, "height": 10}],
		"annotations": [{"id": 1, "image_id": 1, "category_id": 0, "bbox": [0, 0, 1, 1]}],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Payload: p})
	require.NoError(t, err)

	missing := rep.Of(KindMissingLabel)
	require.Len(t, missing, 1)
	assert.Equal(t, "known", missing[0].Stem)
	unprocessed := rep.Of(KindUnprocessedImage)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, "stray", unprocessed[0].Stem)
	assert.Equal(t, SeverityError, rep.MaxSeverity())
	assert.False(t, rep.HasCritical())
}

func TestAudit_IDTypeMismatchIsCritical(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := payloadOf(t, `{
		"images": [{"id": 2, "file_name": "b.jpg", "width": 10, "height": 10}],
		"annotations": [{"id": 1, "image_id": "2", "category_id": 0, "bbox": [0, 0, 1, 1]}],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Payload: p})
	require.NoError(t, err)

	assert.True(t, rep.HasCritical())
	assert.Equal(t, KindIDTypeMismatch, rep.Findings[0].Kind, "critical findings sort first")
	assert.Contains(t, rep.Findings[0].Detail, "number")
	assert.Len(t, rep.Of(KindMissingImage), 1)
	assert.Len(t, rep.Of(KindNoValLabels), 1)
}

func TestAudit_StaleEmptyAndOrphans(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/a.jpg", "x")
	write(t, fs, "/data/labels/train/a.txt", "")
	write(t, fs, "/data/labels/train/ghost.txt", "0 0.5 0.5 0.1 0.1\n")
	write(t, fs, "/data/images/val/v.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "0 0.5 0.5 0.2 0.2\n")
	p := payloadOf(t, `{
		"images": [{"id": 1, "file_name": "a.jpg", "width": 10, "height": 10}],
		"annotations": [
			{"id": 1, "image_id": 1, "category_id": 0, "bbox": [0, 0, 1, 1]},
			{"id": 2, "image_id": 44, "category_id": 0, "bbox": [0, 0, 1, 1]}
		],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Payload: p})
	require.NoError(t, err)

	counts := rep.Counts()
	assert.Equal(t, 1, counts[KindEmptyLabel])
	assert.Equal(t, 1, counts[KindStaleEmptyLabel])
	assert.Equal(t, 1, counts[KindOrphanLabel])
	assert.Equal(t, 1, counts[KindOrphanAnnotation])
	assert.Contains(t, rep.Of(KindOrphanLabel)[0].Detail, types.ErrOrphanedReference.Error())
	assert.Equal(t, 3, rep.SeverityCounts()["warning"])
}

func TestAudit_LabelContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/a.jpg", "x")
	write(t, fs, "/data/labels/train/a.txt", "0 0.5 0.5 0.1 0.1\nbroken line\n0 1.2 0.5 0.1 0.1\n7 0.5 0.5 0.1 0.1\n")
	write(t, fs, "/data/images/val/v.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "1 0.5 0.5 0.2 0.2\n")

	man := &manifest.Manifest{NC: 2, Names: map[int]string{0: "a", 1: "b"}}
	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Manifest: man})
	require.NoError(t, err)

	assert.ElementsMatch(t, []Kind{KindMalformedLabel, KindOutOfRangeBox, KindUnknownClass}, kindsOf(rep.Findings))
	assert.Contains(t, rep.Of(KindMalformedLabel)[0].Detail, "line 2")
	assert.Contains(t, rep.Of(KindOutOfRangeBox)[0].Detail, "line 3")
	assert.Contains(t, rep.Of(KindUnknownClass)[0].Detail, "line 4")
	assert.Equal(t, 3, rep.Splits["train"].Objects)
}

func TestAudit_SplitContamination(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, split := range []string{"train", "val"} {
		write(t, fs, "/data/images/"+split+"/dup.jpg", "x")
		write(t, fs, "/data/labels/"+split+"/dup.txt", "0 0.5 0.5 0.1 0.1\n")
	}

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	require.Equal(t, []Kind{KindSplitContamination}, kindsOf(rep.Findings))
	assert.Equal(t, "train,val", rep.Findings[0].Split)
}

func pngBytes(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.String()
}

func TestAudit_ProbeDimensions(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/ok.png", pngBytes(t, 8, 6))
	write(t, fs, "/data/images/train/wrong.png", pngBytes(t, 8, 6))
	write(t, fs, "/data/images/train/junk.png", "not an image")
	for _, stem := range []string{"ok", "wrong", "junk"} {
		write(t, fs, "/data/labels/train/"+stem+".txt", "0 0.5 0.5 0.1 0.1\n")
	}
	write(t, fs, "/data/images/val/v.jpg", "x")
	write(t, fs, "/data/labels/val/v.txt", "0 0.5 0.5 0.2 0.2\n")
	p := payloadOf(t, `{
		"images": [
			{"id": 1, "file_name": "ok.png", "width": 8, "height": 6},
			{"id": 2, "file_name": "wrong.png", "width": 6, "height": 8},
			{"id": 3, "file_name": "junk.png", "width": 6, "height": 8}
		],
		"annotations": [],
		"categories": [{"id": 0, "name": "x"}]
	}`)

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig(), Payload: p, ProbeDimensions: true})
	require.NoError(t, err)
	assert.True(t, rep.Probed)

	mismatch := rep.Of(KindDimensionMismatch)
	require.Len(t, mismatch, 1)
	assert.Equal(t, "wrong", mismatch[0].Stem)
	assert.Equal(t, "payload declares 6x8, file is 8x6", mismatch[0].Detail)
	assert.Len(t, rep.Of(KindUnreadableImage), 1)
}

func TestAudit_FindingsSorted(t *testing.T) {
	fs := afero.NewMemMapFs()
	write(t, fs, "/data/images/train/b.jpg", "x")
	write(t, fs, "/data/images/train/a.jpg", "x")
	write(t, fs, "/data/labels/train/c.txt", "")

	rep, err := Audit(context.Background(), Options{Fs: fs, Config: testConfig()})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindNoValLabels, KindOrphanLabel, KindUnprocessedImage, KindUnprocessedImage, KindEmptyLabel},
		kindsOf(rep.Findings))
	assert.Equal(t, "a", rep.Of(KindUnprocessedImage)[0].Stem)
}

func TestSeverity_Text(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got Severity
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	_, err := ParseSeverity("fatal")
	assert.Error(t, err)
}
