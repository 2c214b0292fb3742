// Package manifest produces the dataset manifest consumed by the detector:
// dataset root, per-split image directories, and the class index -> name table.
package manifest

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/labelkit/internal/category"
	"github.com/mesh-intelligence/labelkit/internal/fsx"
	"github.com/mesh-intelligence/labelkit/internal/layout"
	"github.com/mesh-intelligence/labelkit/pkg/types"
)

// Manifest is the detector's class vocabulary and data-location contract.
type Manifest struct {
	Path  string         `yaml:"path"`
	Train string         `yaml:"train"`
	Val   string         `yaml:"val"`
	Test  string         `yaml:"test,omitempty"`
	NC    int            `yaml:"nc"`
	Names map[int]string `yaml:"names"`
}

// Options locates the dataset.
type Options struct {
	Root       string
	TrainSplit string
	ValSplit   string
	TestSplit  string
}

// OptionsFromConfig derives Options from the run configuration.
func OptionsFromConfig(cfg types.Config) Options {
	return Options{Root: cfg.DatasetRoot, TrainSplit: cfg.TrainSplit, ValSplit: cfg.ValSplit, TestSplit: cfg.TestSplit}
}

// Generate builds the manifest from resolved categories.
func Generate(m *category.Mapping, opts Options) (*Manifest, error) {
	return FromNames(m.Names(), opts)
}

// FromNames builds the manifest from an index -> name table. Every index in
// [0, max] must have a non-empty name.
func FromNames(names map[int]string, opts Options) (*Manifest, error) {
	if err := checkNames(names); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving dataset root: %w", err)
	}
	man := &Manifest{
		Path:  filepath.ToSlash(root),
		Train: imageDir(opts.TrainSplit),
		Val:   imageDir(opts.ValSplit),
		NC:    len(names),
		Names: make(map[int]string, len(names)),
	}
	if opts.TestSplit != "" {
		man.Test = imageDir(opts.TestSplit)
	}
	for k, v := range names {
		man.Names[k] = v
	}
	return man, nil
}

func imageDir(split string) string {
	return path.Join(layout.ImagesDirName, split)
}

func checkNames(names map[int]string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: manifest has no classes", types.ErrConfiguration)
	}
	maxIdx := -1
	for idx := range names {
		if idx < 0 {
			return fmt.Errorf("%w: negative class index %d", types.ErrConfiguration, idx)
		}
		maxIdx = max(maxIdx, idx)
	}
	for i := 0; i <= maxIdx; i++ {
		if strings.TrimSpace(names[i]) == "" {
			return fmt.Errorf("%w: class index %d has no name", types.ErrConfiguration, i)
		}
	}
	return nil
}

// Indices returns the class indices in ascending order.
func (m *Manifest) Indices() []int {
	idx := make([]int, 0, len(m.Names))
	for k := range m.Names {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// Encode renders the manifest as YAML with names sorted by index and always
// double-quoted.
func (m *Manifest) Encode() ([]byte, error) {
	names := &yaml.Node{Kind: yaml.MappingNode}
	for _, i := range m.Indices() {
		names.Content = append(names.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)},
			&yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: m.Names[i]},
		)
	}
	doc := struct {
		Path  string     `yaml:"path"`
		Train string     `yaml:"train"`
		Val   string     `yaml:"val"`
		Test  string     `yaml:"test,omitempty"`
		NC    int        `yaml:"nc"`
		Names *yaml.Node `yaml:"names"`
	}{m.Path, m.Train, m.Val, m.Test, m.NC, names}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the manifest atomically.
func Write(fs afero.Fs, path string, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(fs, path, data, 0o644)
}

// Load reads a manifest and re-checks its class table.
func Load(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest %s: %v", types.ErrConfiguration, path, err)
	}
	if err := checkNames(m.Names); err != nil {
		return nil, err
	}
	return &m, nil
}
