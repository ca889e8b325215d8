// Package cli implements the sparsego command line tool.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sparsego"
)

// Config holds all settings of the command line tool.
type Config struct {
	Dir      string         `yaml:"dir"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig maps to the options of sparsego.Open.
type EngineConfig struct {
	BufferCapacity    int    `yaml:"buffer_capacity"`
	BlockOnFull       *bool  `yaml:"block_on_full"`
	SegmentThreshold  int    `yaml:"segment_threshold"`
	CompactionRetries int    `yaml:"compaction_retries"`
	WeightFormat      string `yaml:"weight_format"`
	Durability        string `yaml:"durability"`
	VerifyChecksums   bool   `yaml:"verify_checksums"`
	Workers           int    `yaml:"workers"`
	IOBytesPerSec     int64  `yaml:"io_bytes_per_sec"`
}

// SnapshotConfig describes where snapshots are exported to and imported from.
type SnapshotConfig struct {
	Store       StoreConfig `yaml:"store"`
	Compression string      `yaml:"compression"`
	Concurrency int         `yaml:"concurrency"`
}

// StoreConfig selects a blob store. Type is one of local, s3, s3-dynamodb or
// minio.
type StoreConfig struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Table     string `yaml:"table"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	// StorageClass applies to minio segment and manifest objects.
	StorageClass string `yaml:"storage_class"`
}

// LoadConfig reads the YAML file at path and applies defaults. Relative
// paths are resolved against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Dir = expandPath(cfg.Dir, configDir)
	if cfg.Snapshot.Store.Type == "local" {
		cfg.Snapshot.Store.Path = expandPath(cfg.Snapshot.Store.Path, configDir)
	}
	return &cfg, cfg.Validate()
}

func expandPath(path, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// Validate reports settings that cannot be mapped to options.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("config: dir is required")
	}
	if _, err := c.weightFormat(); err != nil {
		return err
	}
	if _, err := c.durability(); err != nil {
		return err
	}
	if _, err := c.logLevel(); err != nil {
		return err
	}
	if _, err := sparsego.ParseCompression(c.Snapshot.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Snapshot.Store.Type {
	case "local", "s3", "s3-dynamodb", "minio":
	default:
		return fmt.Errorf("config: unknown store type %q", c.Snapshot.Store.Type)
	}
	return nil
}

func (c *Config) weightFormat() (sparsego.WeightFormat, error) {
	switch strings.ToLower(c.Engine.WeightFormat) {
	case "float16":
		return sparsego.WeightFloat16, nil
	case "float32":
		return sparsego.WeightFloat32, nil
	default:
		return 0, fmt.Errorf("config: unknown weight format %q", c.Engine.WeightFormat)
	}
}

func (c *Config) durability() (sparsego.Durability, error) {
	switch strings.ToLower(c.Engine.Durability) {
	case "sync":
		return sparsego.DurabilitySync, nil
	case "async":
		return sparsego.DurabilityAsync, nil
	default:
		return 0, fmt.Errorf("config: unknown durability %q", c.Engine.Durability)
	}
}

func (c *Config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("config: %w", err)
	}
	return level, nil
}

func (c *Config) logger() *sparsego.Logger {
	level, _ := c.logLevel()
	if c.Log.Format == "json" {
		return sparsego.NewJSONLogger(level)
	}
	return sparsego.NewTextLogger(level)
}

// Options maps the configuration to sparsego options.
func (c *Config) Options() ([]sparsego.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	wf, _ := c.weightFormat()
	dur, _ := c.durability()

	opts := []sparsego.Option{
		sparsego.WithLogger(c.logger()),
		sparsego.WithBufferCapacity(c.Engine.BufferCapacity),
		sparsego.WithSegmentThreshold(c.Engine.SegmentThreshold),
		sparsego.WithCompactionRetries(c.Engine.CompactionRetries),
		sparsego.WithWeightFormat(wf),
		sparsego.WithDurability(dur),
		sparsego.WithVerifyChecksums(c.Engine.VerifyChecksums),
	}
	if c.Engine.BlockOnFull != nil {
		opts = append(opts, sparsego.WithBlockOnFull(*c.Engine.BlockOnFull))
	}
	if c.Engine.Workers > 0 || c.Engine.IOBytesPerSec > 0 {
		opts = append(opts, sparsego.WithResourceLimits(c.Engine.Workers, c.Engine.IOBytesPerSec))
	}
	return opts, nil
}

// SnapshotOptions maps the snapshot settings to export options.
func (c *Config) SnapshotOptions() ([]sparsego.SnapshotOption, error) {
	alg, err := sparsego.ParseCompression(c.Snapshot.Compression)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return []sparsego.SnapshotOption{
		sparsego.WithSnapshotCompression(alg),
		sparsego.WithSnapshotConcurrency(c.Snapshot.Concurrency),
	}, nil
}
