package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
	"github.com/bybsong/vllm/internal/home"
	"github.com/bybsong/vllm/internal/output"
	"github.com/bybsong/vllm/internal/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "dococr",
	Short: "Document OCR against an OpenAI-compatible vision model server",
	Long: `dococr sends scanned documents, one page at a time, to a locally running
OpenAI-compatible inference server (vLLM serving Nanonets-OCR2 or HunyuanOCR)
and writes back one combined transcript.

It also manages the pieces around that:
  - Downloading model snapshots from the hub for offline serving
  - Running the vLLM server container
  - Inspecting the server (models, chat, health)
  - Watching an inbox directory and transcribing new PDFs`,
	Version:      version.GitRelease,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := output.ParseFormat(outputFormat); err != nil {
			return err
		}
		_, err := parseLogLevel(logLevel)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.dococr/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "dococr home directory (default: ~/.dococr)",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "", "structured output format: yaml or json (default: defaults.output_format)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level (debug, info, warn, error)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "verbose output (equivalent to --log-level=debug)",
	)

	rootCmd.AddCommand(versionCmd)
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (use debug, info, warn or error)", s)
	}
}

// newLogger logs to stderr so stdout stays free for transcripts.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := parseLogLevel(logLevel)
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the home directory and loads configuration from
// --config, ./config.yaml or the home directory.
func loadConfig(logger *slog.Logger) (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}

	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, nil, err
	}
	cm.SetLogger(logger)

	if used := cm.ConfigFileUsed(); used != "" {
		logger.Debug("loaded config", "path", used)
	}
	return cm, h, nil
}

// formatFor returns --format, falling back to the configured default.
func formatFor(cfg *config.Config) output.Format {
	name := outputFormat
	if name == "" && cfg != nil {
		name = cfg.Defaults.OutputFormat
	}
	f, err := output.ParseFormat(name)
	if err != nil {
		return output.DefaultFormat
	}
	return f
}

// writeOutput prints structured data to stdout.
func writeOutput(cmd *cobra.Command, cfg *config.Config, data any) error {
	return writeTo(cmd.OutOrStdout(), cfg, data)
}

func writeTo(w io.Writer, cfg *config.Config, data any) error {
	return output.Write(w, formatFor(cfg), data)
}
