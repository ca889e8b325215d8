package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/sparsego"
)

type rootFlags struct {
	configPath string
	dir        string
}

// NewRootCommand builds the sparsego command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "sparsego",
		Short: "sparsego - an embedded sparse-vector index",
		Long: `sparsego manages an on-disk sparse-vector index.

Vectors are JSON objects that map dimensions to weights, e.g. {"10": 1.5, "42": 0.25}.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().StringVarP(&flags.dir, "dir", "d", "", "Index directory (overrides the config file)")

	root.AddCommand(
		newInsertCommand(flags),
		newSearchCommand(flags),
		newDeleteCommand(flags),
		newFlushCommand(flags),
		newCompactCommand(flags),
		newStatsCommand(flags),
		newExportCommand(flags),
		newImportCommand(flags),
	)
	return root
}

// Execute runs the command tree with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

func (f *rootFlags) config() (*Config, error) {
	var cfg *Config
	if f.configPath != "" {
		loaded, err := LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = DefaultConfig()
	}
	if f.dir != "" {
		cfg.Dir = f.dir
	}
	return cfg, cfg.Validate()
}

func (f *rootFlags) open() (*sparsego.DB, *Config, error) {
	cfg, err := f.config()
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, nil, err
	}
	db, err := sparsego.Open(cfg.Dir, opts...)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

// withDB opens the index, runs fn and closes the index.
func (f *rootFlags) withDB(fn func(db *sparsego.DB, cfg *Config) error) (err error) {
	db, cfg, err := f.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(db, cfg)
}
