// Package labels writes and parses per-image label files. Each non-empty line
// is "<class> <x_center> <y_center> <width> <height>" with normalized values;
// a zero-byte file means the image was processed and holds no objects.
package labels

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Writer emits label files for one conversion pass. The first write to a
// label file within the pass truncates it and every later write appends, so a
// rerun never duplicates lines left by an earlier run. Distinct stems may be
// written concurrently; one stem must be owned by one goroutine.
type Writer struct {
	fs     afero.Fs
	layout layout.Layout

	mu      sync.Mutex
	touched map[string]bool
	lines   int
}

// NewWriter starts a conversion pass.
func NewWriter(fs afero.Fs, l layout.Layout) *Writer {
	return &Writer{fs: fs, layout: l, touched: make(map[string]bool)}
}

// Touch creates or truncates the label file of an image, leaving it empty
// unless later appended to in the same pass.
func (w *Writer) Touch(split, stem string) error {
	return w.Write(split, stem, nil)
}

// Append adds one line to the label file of an image.
func (w *Writer) Append(split, stem string, box types.NormalizedBox) error {
	return w.Write(split, stem, []types.NormalizedBox{box})
}

// Write adds boxes to the label file of an image in one open. The file is
// truncated first if this pass has not touched it yet.
func (w *Writer) Write(split, stem string, boxes []types.NormalizedBox) error {
	path := w.layout.LabelPath(split, stem)

	w.mu.Lock()
	first := !w.touched[path]
	w.touched[path] = true
	w.mu.Unlock()

	flag := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if first {
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if err := w.fs.MkdirAll(w.layout.LabelDir(split), 0o755); err != nil {
			return fmt.Errorf("creating label dir: %w", err)
		}
	}
	f, err := w.fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	bw := bufio.NewWriter(f)
	for _, b := range boxes {
		if _, err := bw.WriteString(b.String() + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	w.mu.Lock()
	w.lines += len(boxes)
	w.mu.Unlock()
	return nil
}

// Files returns how many label files this pass has touched.
func (w *Writer) Files() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.touched)
}

// Lines returns how many lines this pass has written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}
