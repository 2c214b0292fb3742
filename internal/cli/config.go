package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
	envPrefix      = "LABELKIT"
)

// Config keys.
const (
	cfgKeyDatasetRoot       = "dataset_root"
	cfgKeyPayload           = "payload"
	cfgKeyTrainSplit        = "train_split"
	cfgKeyValSplit          = "val_split"
	cfgKeyTestSplit         = "test_split"
	cfgKeyLabelExt          = "label_ext"
	cfgKeyImageExts         = "image_exts"
	cfgKeyValFraction       = "val_fraction"
	cfgKeySplitSeed         = "split_seed"
	cfgKeyWorkers           = "workers"
	cfgKeyManifest          = "manifest"
	cfgKeyDataDir           = "data_dir"
	cfgKeyLogLevel          = "log_level"
	cfgKeyMinImages         = "min_images"
	cfgKeyRecommendedImages = "recommended_images"
	cfgKeyMinPerClass       = "min_per_class"
)

// envKeys can be overridden by LABELKIT_<KEY>. dataset_root and data_dir are
// resolved by the paths package with their own precedence.
var envKeys = []string{
	cfgKeyPayload, cfgKeyTrainSplit, cfgKeyValSplit, cfgKeyTestSplit,
	cfgKeyLabelExt, cfgKeyImageExts, cfgKeyValFraction, cfgKeySplitSeed,
	cfgKeyWorkers, cfgKeyManifest, cfgKeyLogLevel,
	cfgKeyMinImages, cfgKeyRecommendedImages, cfgKeyMinPerClass,
}

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# labelkit configuration
# Every key can also be set with a LABELKIT_<KEY> environment variable,
# except dataset_root (LABELKIT_DATASET_ROOT) and data_dir (LABELKIT_DATA_DIR)
# which rank below this file.

# Dataset root holding images/<split>/ and labels/<split>/.
# dataset_root: /path/to/dataset

# Annotation payload, relative to the dataset root.
payload: raw_annotations/train_annotations.json

train_split: train
val_split: val
# test_split: test

label_ext: .txt
image_exts: [.jpg, .jpeg, .png, .bmp, .gif, .tif, .tiff, .webp]

# Fraction of labelled images assigned to validation by "labelkit split".
val_fraction: 0.2
split_seed: 0

# Conversion workers.
workers: 1

# Manifest file, relative to the dataset root.
manifest: dataset.yaml

# Run ledger directory (default: <dataset_root>/.labelkit).
# data_dir:

log_level: info

# Dataset quality thresholds reported by "labelkit convert".
min_images: 100
recommended_images: 500
min_per_class: 50
`

// loadConfig reads config.yaml from configDir using Viper. With
// createDefault it first creates the directory and a commented default file.
// A missing config.yaml is not an error.
func loadConfig(configDir string, createDefault bool) (*viper.Viper, error) {
	if createDefault {
		if err := ensureConfigDir(configDir); err != nil {
			return nil, fmt.Errorf("ensure config dir: %w", err)
		}
		if err := ensureDefaultConfigFile(configDir); err != nil {
			return nil, fmt.Errorf("ensure default config: %w", err)
		}
	}

	v := viper.New()
	d := types.DefaultConfig()
	v.SetDefault(cfgKeyPayload, d.Payload)
	v.SetDefault(cfgKeyTrainSplit, d.TrainSplit)
	v.SetDefault(cfgKeyValSplit, d.ValSplit)
	v.SetDefault(cfgKeyLabelExt, d.LabelExt)
	v.SetDefault(cfgKeyImageExts, d.ImageExts)
	v.SetDefault(cfgKeyValFraction, d.ValFraction)
	v.SetDefault(cfgKeyWorkers, d.Workers)
	v.SetDefault(cfgKeyManifest, d.Manifest)
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyMinImages, d.MinImages)
	v.SetDefault(cfgKeyRecommendedImages, d.RecommendedImages)
	v.SetDefault(cfgKeyMinPerClass, d.MinPerClass)

	v.SetEnvPrefix(envPrefix)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// configFromViper builds the run configuration. DatasetRoot is left empty.
func configFromViper(v *viper.Viper) types.Config {
	return types.Config{
		Payload:           v.GetString(cfgKeyPayload),
		TrainSplit:        v.GetString(cfgKeyTrainSplit),
		ValSplit:          v.GetString(cfgKeyValSplit),
		TestSplit:         v.GetString(cfgKeyTestSplit),
		LabelExt:          v.GetString(cfgKeyLabelExt),
		ImageExts:         v.GetStringSlice(cfgKeyImageExts),
		ValFraction:       v.GetFloat64(cfgKeyValFraction),
		SplitSeed:         v.GetInt64(cfgKeySplitSeed),
		Workers:           v.GetInt(cfgKeyWorkers),
		Manifest:          v.GetString(cfgKeyManifest),
		DataDir:           v.GetString(cfgKeyDataDir),
		MinImages:         v.GetInt(cfgKeyMinImages),
		RecommendedImages: v.GetInt(cfgKeyRecommendedImages),
		MinPerClass:       v.GetInt(cfgKeyMinPerClass),
	}
}

// ensureConfigDir creates the config directory if it does not exist.
func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile creates a default config.yaml if the file does not
// exist in the config directory.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// writeConfigIfMissing writes cfg to config.yaml unless the file exists.
// It reports whether a file was written.
func writeConfigIfMissing(configDir string, cfg types.Config) (bool, error) {
	path := filepath.Join(configDir, configFileExt)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := ensureConfigDir(configDir); err != nil {
		return false, err
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	return true, os.WriteFile(path, data, 0o644)
}

// resolvePath joins a configured path with the dataset root unless absolute.
func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
