// Package layout describes the on-disk dataset layout: per-split image and
// label directories under one dataset root, paired by file stem.
//
//	<root>/images/<split>/<stem>.<image ext>
//	<root>/labels/<split>/<stem><label ext>
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Directory names under the dataset root.
const (
	ImagesDirName = "images"
	LabelsDirName = "labels"

	quarantineSuffix  = "_backup_empty"
	unannotatedSuffix = "_unannotated"
)

// Layout resolves dataset paths. The root is always explicit.
type Layout struct {
	Root      string
	LabelExt  string
	imageExts map[string]bool
}

// Entry is one file found in a split directory.
type Entry struct {
	Name string
	Stem string
	Path string
	Size int64
}

// New builds a Layout from the run configuration.
func New(cfg types.Config) Layout {
	exts := make(map[string]bool, len(cfg.ImageExts))
	for _, e := range cfg.ImageExts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	return Layout{Root: cfg.DatasetRoot, LabelExt: cfg.LabelExt, imageExts: exts}
}

// ImageDir returns the image directory of a split.
func (l Layout) ImageDir(split string) string {
	return filepath.Join(l.Root, ImagesDirName, split)
}

// LabelDir returns the label directory of a split.
func (l Layout) LabelDir(split string) string {
	return filepath.Join(l.Root, LabelsDirName, split)
}

// ImagePath returns the path of an image file in a split.
func (l Layout) ImagePath(split, name string) string {
	return filepath.Join(l.ImageDir(split), filepath.Base(name))
}

// LabelPath returns the label path for an image stem in a split.
func (l Layout) LabelPath(split, stem string) string {
	return filepath.Join(l.LabelDir(split), stem+l.LabelExt)
}

// QuarantineDir holds empty label files moved out of a split.
func (l Layout) QuarantineDir(split string) string {
	return filepath.Join(l.Root, LabelsDirName, split+quarantineSuffix)
}

// UnannotatedDir holds images moved out of a split for lacking labels.
func (l Layout) UnannotatedDir(split string) string {
	return filepath.Join(l.Root, ImagesDirName, split+unannotatedSuffix)
}

// Rel returns path relative to the dataset root, or path unchanged.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return path
	}
	return rel
}

// IsImage reports whether name has a recognized image extension.
func (l Layout) IsImage(name string) bool {
	return l.imageExts[strings.ToLower(filepath.Ext(name))]
}

// IsLabel reports whether name has the label extension.
func (l Layout) IsLabel(name string) bool {
	return filepath.Ext(name) == l.LabelExt
}

// Ensure creates the image and label directories of every split.
func (l Layout) Ensure(fs afero.Fs, splits []string) error {
	for _, s := range splits {
		for _, dir := range []string{l.ImageDir(s), l.LabelDir(s)} {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
		}
	}
	return nil
}

// ListImages returns the image files of a split sorted by name. A missing
// directory yields no entries.
func (l Layout) ListImages(fs afero.Fs, split string) ([]Entry, error) {
	return list(fs, l.ImageDir(split), l.IsImage)
}

// ListLabels returns the label files of a split sorted by name.
func (l Layout) ListLabels(fs afero.Fs, split string) ([]Entry, error) {
	return list(fs, l.LabelDir(split), l.IsLabel)
}

func list(fs afero.Fs, dir string, keep func(string) bool) ([]Entry, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var out []Entry
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, ".") || !keep(name) {
			continue
		}
		out = append(out, Entry{
			Name: name,
			Stem: types.Stem(name),
			Path: filepath.Join(dir, name),
			Size: info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ByStem indexes entries by stem. Later duplicates are returned separately.
func ByStem(entries []Entry) (map[string]Entry, []Entry) {
	m := make(map[string]Entry, len(entries))
	var dups []Entry
	for _, e := range entries {
		if _, ok := m[e.Stem]; ok {
			dups = append(dups, e)
			continue
		}
		m[e.Stem] = e
	}
	return m, dups
}
