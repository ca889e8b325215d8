package cli

const (
	DefaultDir               = "./sparsego-data"
	DefaultBufferCapacity    = 1 << 20
	DefaultSegmentThreshold  = 8
	DefaultCompactionRetries = 3
	DefaultSnapshotWorkers   = 4
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{Dir: DefaultDir}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Engine.BufferCapacity == 0 {
		cfg.Engine.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.Engine.BlockOnFull == nil {
		block := true
		cfg.Engine.BlockOnFull = &block
	}
	if cfg.Engine.SegmentThreshold == 0 {
		cfg.Engine.SegmentThreshold = DefaultSegmentThreshold
	}
	if cfg.Engine.CompactionRetries == 0 {
		cfg.Engine.CompactionRetries = DefaultCompactionRetries
	}
	if cfg.Engine.WeightFormat == "" {
		cfg.Engine.WeightFormat = "float16"
	}
	if cfg.Engine.Durability == "" {
		cfg.Engine.Durability = "sync"
	}
	if cfg.Snapshot.Store.Type == "" {
		cfg.Snapshot.Store.Type = "local"
	}
	if cfg.Snapshot.Concurrency == 0 {
		cfg.Snapshot.Concurrency = DefaultSnapshotWorkers
	}
	if cfg.Snapshot.Store.Region == "" {
		cfg.Snapshot.Store.Region = "us-east-1"
	}
}
