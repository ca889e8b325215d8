package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/sparsego"
)

func newFlushCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write buffered points into a new segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				return db.Flush(cmd.Context())
			})
		},
	}
}

func newCompactCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Merge all segments and drop deleted points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				return db.Compact(cmd.Context())
			})
		},
	}
}

// statsView is the YAML form of sparsego.Stats.
type statsView struct {
	Dir            string `yaml:"dir"`
	Segments       int    `yaml:"segments"`
	SegmentPoints  int    `yaml:"segment_points"`
	Tombstones     int    `yaml:"tombstones"`
	BufferedPoints int    `yaml:"buffered_points"`
	BufferUsed     int    `yaml:"buffer_used"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	LivePoints     int    `yaml:"live_points"`
	NextPointID    uint32 `yaml:"next_point_id"`
	LastLSN        uint64 `yaml:"last_lsn"`
	ManifestID     uint64 `yaml:"manifest_id"`
	WeightFormat   string `yaml:"weight_format"`
}

func newStatsCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withDB(func(db *sparsego.DB, _ *Config) error {
				st, err := db.Stats()
				if err != nil {
					return err
				}
				data, err := yaml.Marshal(statsView{
					Dir:            db.Dir(),
					Segments:       st.Segments,
					SegmentPoints:  st.SegmentPoints,
					Tombstones:     st.Tombstones,
					BufferedPoints: st.BufferedPoints,
					BufferUsed:     st.BufferUsed,
					BufferCapacity: st.BufferCapacity,
					LivePoints:     st.LivePoints,
					NextPointID:    uint32(st.NextPointID),
					LastLSN:        st.LastLSN,
					ManifestID:     st.ManifestID,
					WeightFormat:   st.WeightFormat.String(),
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}
