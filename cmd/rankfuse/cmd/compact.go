package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/output"
)

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the vector index without deleted entries",
		Long: `Rebuild the vector index graph to reclaim space held by deleted
documents. Deletes are lazy, so heavy churn leaves orphaned graph
nodes until a compaction runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer setupLogging(cfg)()
			out := output.New(cmd.OutOrStdout())

			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			before := eng.Stats()
			if before.VectorOrphans == 0 {
				out.Success("nothing to compact")
				return nil
			}

			start := time.Now()
			eng.Compact()
			if err := eng.Save(cfg.Storage.DataDir); err != nil {
				return err
			}

			out.Successf("reclaimed %d orphans in %s",
				before.VectorOrphans, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
