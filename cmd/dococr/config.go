package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dococr configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration file",
	Long: `Write the default configuration (providers nanonets and hunyuan, run
defaults, hub and server settings) to ~/.dococr/config.yaml or the given path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		_, h, err := loadConfig(logger)
		if err != nil {
			return err
		}

		path := h.ConfigPath()
		if len(args) == 1 {
			path = args[0]
		} else if err := h.EnsureExists(); err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		logger.Info("wrote config", "path", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cm, _, err := loadConfig(newLogger(cmd))
		if err != nil {
			return err
		}
		cfg := cm.Get()
		return writeOutput(cmd, cfg, cfg)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
