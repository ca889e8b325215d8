package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sparsego"
)

func newInsertCommand(root *rootFlags) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "insert [vector...]",
		Short: "Insert vectors and print their ids",
		Long: `Insert vectors given as arguments, or one JSON vector per line from --file
or stdin when no arguments are given.

Examples:
  sparsego insert '{"10": 1, "20": 2}'
  sparsego insert --file vectors.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				out := cmd.OutOrStdout()
				insert := func(_ int, v sparsego.SparseVector) error {
					id, err := db.Insert(cmd.Context(), v)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, id)
					return err
				}

				if len(args) > 0 {
					for i, a := range args {
						v, err := ParseVector(a)
						if err != nil {
							return err
						}
						if err := insert(i, v); err != nil {
							return err
						}
					}
					return nil
				}

				var in io.Reader = cmd.InOrStdin()
				if file != "" {
					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()
					in = f
				}
				return readVectors(in, insert)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read JSON lines from file")
	return cmd
}

func newDeleteCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete points by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]sparsego.PointID, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseUint(a, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", a, err)
				}
				ids = append(ids, sparsego.PointID(id))
			}
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				for _, id := range ids {
					if err := db.Delete(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
