package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/sparsego"
)

type searchResult struct {
	ID    sparsego.PointID `json:"id"`
	Score float32          `json:"score"`
}

func newSearchCommand(root *rootFlags) *cobra.Command {
	var (
		k      int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search <vector>",
		Short: "Return the points with the highest dot product",
		Long: `Search the index with a JSON query vector.

Examples:
  sparsego search '{"10": 1, "20": 1}'
  sparsego search -k 5 --json '{"10": 1}' | jq '.[].id'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ParseVector(args[0])
			if err != nil {
				return err
			}
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				res, err := db.Search(cmd.Context(), q, k)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					results := make([]searchResult, len(res))
					for i, c := range res {
						results[i] = searchResult{ID: c.ID, Score: c.Score}
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(results)
				}
				for _, c := range res {
					if _, err := fmt.Fprintf(out, "%d\t%g\n", c.ID, c.Score); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 10, "Number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output results as JSON")
	return cmd
}
