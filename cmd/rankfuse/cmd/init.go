package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rankfuse/rankfuse/internal/config"
	"github.com/rankfuse/rankfuse/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .rankfuse.yaml to the project directory",
		Long: `Write a .rankfuse.yaml with the default configuration so it can be
tuned per project. An existing file is left alone unless --force is
given, in which case it is backed up first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path := filepath.Join(rootOpts.projectDir, ".rankfuse.yaml")

			if config.UserConfigExists() {
				out.Warning("user config exists and takes lower precedence than this file")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if force {
				if bak, err := config.Backup(path); err != nil {
					return err
				} else if bak != "" {
					out.Successf("backed up existing config to %s", filepath.Base(bak))
				}
			}

			cfg := config.NewConfig()
			if err := cfg.WriteYAML(path); err != nil {
				return err
			}
			out.Successf("wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config (after backing it up)")
	return cmd
}
