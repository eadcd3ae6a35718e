package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and index health",
		Long: `Run preflight checks: free disk space, data directory permissions,
snapshot integrity, and embedding provider reachability. Exits
non-zero only when a required check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer setupLogging(cfg)()

			var probe preflight.EmbedProbe
			if strings.ToLower(cfg.Embeddings.Provider) != "static" {
				probe = newOllamaEmbedder(cfg)
			}

			checker := preflight.New(cfg.Storage.DataDir, probe)
			results := checker.RunAll(cmd.Context())

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				for _, r := range results {
					_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
				}
				_, _ = fmt.Fprintf(w, "\nStatus: %s\n", strings.ToUpper(preflight.SummaryStatus(results)))
			}

			if preflight.HasCriticalFailures(results) {
				return fmt.Errorf("preflight checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
