package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/output"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer setupLogging(cfg)()

			eng, err := buildEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			stats := eng.Stats()
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			out := output.New(cmd.OutOrStdout())
			out.Heading("documents")
			out.Field("total", stats.Documents)

			out.Heading("lexical index")
			out.Field("documents", stats.Lexical.DocumentCount)
			out.Field("terms", stats.Lexical.TermCount)
			out.Field("dirty", stats.Lexical.Dirty)

			out.Heading("vector index")
			out.Field("vectors", stats.VectorCount)
			out.Field("orphans", stats.VectorOrphans)

			out.Heading("query cache")
			out.Field("entries", stats.QueryCache.Entries)
			out.Field("hits", stats.QueryCache.Hits)
			out.Field("misses", stats.QueryCache.Misses)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output stats as JSON")
	return cmd
}
