package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/smoke"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Send a generated test image and print what the server reads",
	Long: `Draw "SAMPLE INVOICE / Total: $1,234.56" onto a blank image, send it to the
OCR server and print the reply. Exits non-zero when the request fails.

Examples:
  dococr smoke
  dococr smoke --url http://gpu-box:8001/v1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cm, _, err := loadConfig(logger)
		if err != nil {
			return err
		}

		client, _, err := resolveProvider(cmd, cm.Get(), logger)
		if err != nil {
			return err
		}

		result, err := smoke.Run(cmd.Context(), client, logger)
		if err != nil {
			return fmt.Errorf("smoke test against %s failed: %w", client.BaseURL(), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.Text)
		return nil
	},
}

func init() {
	f := smokeCmd.Flags()
	f.String("provider", "", "provider profile from config (default: defaults.provider)")
	f.String("url", "", "override the provider's base URL")
	f.String("model", "", "override the provider's model")

	rootCmd.AddCommand(smokeCmd)
}
