// Package cmd provides the CLI commands for RankFuse.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/config"
	"github.com/rankfuse/rankfuse/internal/logging"
	"github.com/rankfuse/rankfuse/internal/profiling"
	"github.com/rankfuse/rankfuse/pkg/version"
)

// rootOptions are persistent flags shared by all subcommands.
type rootOptions struct {
	projectDir string
	dataDir    string
	debug      bool
	profileCPU string
	profileMem string
}

var (
	rootOpts   rootOptions
	profiler   = profiling.NewProfiler()
	cpuCleanup func()
)

// NewRootCmd creates the root command for the rankfuse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rankfuse",
		Short: "Hybrid retrieval and ranking engine",
		Long: `RankFuse fuses BM25 keyword search and HNSW vector search with
Reciprocal Rank Fusion, with metadata filtering, faceting, reranking,
and MMR diversification on top.

Documents live in a local SQLite store; indexes are rebuilt or loaded
from snapshots in the data directory.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("rankfuse version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&rootOpts.projectDir, "project", "C", ".", "Project directory holding .rankfuse.yaml")
	cmd.PersistentFlags().StringVar(&rootOpts.dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&rootOpts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&rootOpts.profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&rootOpts.profileMem, "profile-mem", "", "Write memory profile to file")

	cmd.PersistentPreRunE = startProfiling
	cmd.PersistentPostRunE = stopProfiling

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCompactCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfiling starts CPU profiling if requested.
func startProfiling(_ *cobra.Command, _ []string) error {
	if rootOpts.profileCPU == "" {
		return nil
	}
	cleanup, err := profiler.StartCPU(rootOpts.profileCPU)
	if err != nil {
		return err
	}
	cpuCleanup = cleanup
	return nil
}

// stopProfiling flushes the CPU profile and writes the heap profile.
func stopProfiling(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if rootOpts.profileMem != "" {
		return profiler.WriteHeap(rootOpts.profileMem)
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig loads the layered configuration for the project directory
// and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	root, err := config.FindProjectRoot(rootOpts.projectDir)
	if err != nil {
		root = rootOpts.projectDir
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if rootOpts.dataDir != "" {
		cfg.Storage.DataDir = rootOpts.dataDir
	}
	if rootOpts.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the configured slog handler. CLI commands log
// to file only; stdout stays clean for command output.
func setupLogging(cfg *config.Config) func() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.WriteToStderr = false
	_, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}
	}
	return cleanup
}
