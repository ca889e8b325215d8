package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sparsego"
)

// snapshotStore resolves the configured store. A non-empty path selects a
// local store in that directory.
func snapshotStore(cmd *cobra.Command, cfg *Config, path string) (StoreConfig, error) {
	sc := cfg.Snapshot.Store
	if path != "" {
		sc = StoreConfig{Type: "local", Path: path}
	}
	if sc.Type == "local" && sc.Path == "" {
		return sc, fmt.Errorf("%s: no snapshot location, use --path or snapshot.store in the config", cmd.Name())
	}
	return sc, nil
}

func newExportCommand(root *rootFlags) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a consistent snapshot to a blob store",
		Long: `Export the index, including buffered writes, to the configured snapshot
store or to the local directory given by --path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withDB(func(db *sparsego.DB, cfg *Config) error {
				sc, err := snapshotStore(cmd, cfg, path)
				if err != nil {
					return err
				}
				store, err := OpenStore(cmd.Context(), sc)
				if err != nil {
					return err
				}
				opts, err := cfg.SnapshotOptions()
				if err != nil {
					return err
				}
				m, err := db.ExportSnapshot(cmd.Context(), store, opts...)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported manifest %d with %d segment(s)\n", m.ID, len(m.Segments))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Export to a local directory")
	return cmd
}

func newImportCommand(root *rootFlags) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore a snapshot into an empty index directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.config()
			if err != nil {
				return err
			}
			sc, err := snapshotStore(cmd, cfg, path)
			if err != nil {
				return err
			}
			store, err := OpenStore(cmd.Context(), sc)
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}

			db, err := sparsego.ImportSnapshot(cmd.Context(), store, cfg.Dir, opts...)
			if err != nil {
				return err
			}
			st, err := db.Stats()
			if err != nil {
				_ = db.Close()
				return err
			}
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d segment(s), %d live point(s)\n", st.Segments, st.LivePoints); err != nil {
				_ = db.Close()
				return err
			}
			return db.Close()
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Import from a local directory")
	return cmd
}
