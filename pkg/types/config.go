package types

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the dataset location and the knobs every command shares.
type Config struct {
	DatasetRoot string   `json:"dataset_root" yaml:"dataset_root"`
	Payload     string   `json:"payload" yaml:"payload"`
	TrainSplit  string   `json:"train_split" yaml:"train_split"`
	ValSplit    string   `json:"val_split" yaml:"val_split"`
	TestSplit   string   `json:"test_split,omitempty" yaml:"test_split,omitempty"`
	LabelExt    string   `json:"label_ext" yaml:"label_ext"`
	ImageExts   []string `json:"image_exts" yaml:"image_exts"`
	ValFraction float64  `json:"val_fraction" yaml:"val_fraction"`
	SplitSeed   int64    `json:"split_seed" yaml:"split_seed"`
	Workers     int      `json:"workers" yaml:"workers"`
	Manifest    string   `json:"manifest" yaml:"manifest"`
	DataDir     string   `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	// Dataset quality thresholds reported by convert.
	MinImages         int `json:"min_images" yaml:"min_images"`
	RecommendedImages int `json:"recommended_images" yaml:"recommended_images"`
	MinPerClass       int `json:"min_per_class" yaml:"min_per_class"`
}

// Defaults.
const (
	DefaultPayload           = "raw_annotations/train_annotations.json"
	DefaultTrainSplit        = "train"
	DefaultValSplit          = "val"
	DefaultLabelExt          = ".txt"
	DefaultValFraction       = 0.2
	DefaultWorkers           = 1
	DefaultManifest          = "dataset.yaml"
	DefaultMinImages         = 100
	DefaultRecommendedImages = 500
	DefaultMinPerClass       = 50
)

// DefaultImageExts lists the image extensions recognized on disk.
var DefaultImageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff", ".webp"}

// Config validation errors.
var (
	ErrSplitNameEmpty    = errors.New("split names must not be empty")
	ErrSplitNameConflict = errors.New("split names must be distinct")
	ErrLabelExtInvalid   = errors.New("label extension must start with a dot")
	ErrImageExtsEmpty    = errors.New("at least one image extension is required")
	ErrValFraction       = errors.New("validation fraction must be in (0,1)")
	ErrWorkersInvalid    = errors.New("workers must be positive")
)

// DefaultConfig returns a Config with every default applied and no dataset root.
func DefaultConfig() Config {
	return Config{
		Payload:           DefaultPayload,
		TrainSplit:        DefaultTrainSplit,
		ValSplit:          DefaultValSplit,
		LabelExt:          DefaultLabelExt,
		ImageExts:         append([]string(nil), DefaultImageExts...),
		ValFraction:       DefaultValFraction,
		Workers:           DefaultWorkers,
		Manifest:          DefaultManifest,
		MinImages:         DefaultMinImages,
		RecommendedImages: DefaultRecommendedImages,
		MinPerClass:       DefaultMinPerClass,
	}
}

// Splits returns the configured split names: train, val, then test if set.
func (c Config) Splits() []string {
	splits := []string{c.TrainSplit, c.ValSplit}
	if c.TestSplit != "" {
		splits = append(splits, c.TestSplit)
	}
	return splits
}

// Validate checks that the Config is well-formed. Every failure wraps
// ErrConfiguration as well as the specific sentinel.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatasetRoot) == "" {
		return ErrDatasetRootUnset
	}
	if c.TrainSplit == "" || c.ValSplit == "" {
		return configErr(ErrSplitNameEmpty)
	}
	if c.TrainSplit == c.ValSplit || (c.TestSplit != "" && (c.TestSplit == c.TrainSplit || c.TestSplit == c.ValSplit)) {
		return configErr(ErrSplitNameConflict)
	}
	if !strings.HasPrefix(c.LabelExt, ".") || len(c.LabelExt) < 2 {
		return configErr(ErrLabelExtInvalid)
	}
	if len(c.ImageExts) == 0 {
		return configErr(ErrImageExtsEmpty)
	}
	if !(c.ValFraction > 0 && c.ValFraction < 1) {
		return configErr(ErrValFraction)
	}
	if c.Workers < 1 {
		return configErr(ErrWorkersInvalid)
	}
	return nil
}

func configErr(err error) error {
	return fmt.Errorf("%w: %w", ErrConfiguration, err)
}
