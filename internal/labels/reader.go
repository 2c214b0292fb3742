package labels

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Line is one parsed label line.
type Line struct {
	Number int
	Box    types.NormalizedBox
}

// LineError is an unparsable label line.
type LineError struct {
	Number int
	Text   string
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Number, e.Reason, e.Text)
}

// Parse reads label lines. Blank lines are ignored; malformed lines are
// returned as LineErrors rather than aborting the read.
func Parse(r io.Reader) ([]Line, []LineError, error) {
	var (
		lines []Line
		bad   []LineError
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		box, reason := parseLine(text)
		if reason != "" {
			bad = append(bad, LineError{Number: n, Text: text, Reason: reason})
			continue
		}
		lines = append(lines, Line{Number: n, Box: box})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return lines, bad, nil
}

// ReadFile parses the label file at path.
func ReadFile(fs afero.Fs, path string) ([]Line, []LineError, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func parseLine(text string) (types.NormalizedBox, string) {
	fields := strings.Fields(text)
	if len(fields) != 5 {
		return types.NormalizedBox{}, fmt.Sprintf("want 5 fields, got %d", len(fields))
	}
	class, err := strconv.Atoi(fields[0])
	if err != nil || class < 0 {
		return types.NormalizedBox{}, "class index is not a non-negative integer"
	}
	var v [4]float64
	for i, f := range fields[1:] {
		v[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return types.NormalizedBox{}, fmt.Sprintf("field %d is not a number", i+2)
		}
	}
	return types.NormalizedBox{Class: class, XCenter: v[0], YCenter: v[1], Width: v[2], Height: v[3]}, ""
}
