package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
	"github.com/bybsong/vllm/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models the server is serving",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cm, _, err := loadConfig(logger)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		inspector, err := newInspector(cmd, cfg, logger)
		if err != nil {
			return err
		}
		models, err := inspector.Models(cmd.Context())
		if err != nil {
			return err
		}
		return writeOutput(cmd, cfg, models)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a text prompt to the server",
	Long: `Send a plain text prompt and print the reply. Useful for checking that the
server answers before sending documents.

Modes:
  chat      chat completion (default)
  complete  legacy text completion
  stream    streaming chat completion, printed as it arrives

Examples:
  dococr chat "Say hello"
  dococr chat --mode stream --system "You are terse." "Describe OCR"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the OCR server is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		cm, _, err := loadConfig(logger)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		client, _, err := resolveProvider(cmd, cfg, logger)
		if err != nil {
			return err
		}

		start := time.Now()
		status := healthStatus{Provider: client.Name(), BaseURL: client.BaseURL(), Model: client.Model(), Status: "ok"}
		checkErr := client.HealthCheck(cmd.Context())
		status.Latency = time.Since(start).Round(time.Millisecond).String()
		if checkErr != nil {
			status.Status = "unreachable"
			status.Error = checkErr.Error()
		}
		if err := writeOutput(cmd, cfg, status); err != nil {
			return err
		}
		return checkErr
	},
}

type healthStatus struct {
	Provider string `json:"provider" yaml:"provider"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	Model    string `json:"model" yaml:"model"`
	Status   string `json:"status" yaml:"status"`
	Latency  string `json:"latency" yaml:"latency"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

func init() {
	for _, cmd := range []*cobra.Command{modelsCmd, chatCmd, healthCmd} {
		f := cmd.Flags()
		f.String("provider", "", "provider profile from config (default: defaults.provider)")
		f.String("url", "", "override the provider's base URL")
		f.String("model", "", "override the provider's model")
	}

	f := chatCmd.Flags()
	f.String("mode", "chat", "chat, complete or stream")
	f.String("system", "", "system message")
	f.Int("max-tokens", 512, "maximum tokens in the reply")
	f.Float64("temperature", 0, "sampling temperature")

	rootCmd.AddCommand(modelsCmd, chatCmd, healthCmd)
}

// newInspector builds an SDK client for the selected provider profile.
func newInspector(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (*providers.Inspector, error) {
	client, pc, err := resolveProvider(cmd, cfg, logger)
	if err != nil {
		return nil, err
	}
	p := pc.ProviderConfig()
	return providers.NewInspector(providers.InspectorConfig{
		BaseURL: client.BaseURL(),
		APIKey:  p.APIKey,
		Model:   client.Model(),
		Timeout: p.Timeout,
	}), nil
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd)
	cm, _, err := loadConfig(logger)
	if err != nil {
		return err
	}
	inspector, err := newInspector(cmd, cm.Get(), logger)
	if err != nil {
		return err
	}

	mode, _ := cmd.Flags().GetString("mode")
	system, _ := cmd.Flags().GetString("system")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	temperature, _ := cmd.Flags().GetFloat64("temperature")
	req := providers.PromptRequest{
		System:      system,
		Prompt:      strings.Join(args, " "),
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	var reply string
	switch mode {
	case "chat":
		reply, err = inspector.Chat(ctx, req)
	case "complete":
		reply, err = inspector.Complete(ctx, req)
	case "stream":
		_, err = inspector.Stream(ctx, req, out)
	default:
		return fmt.Errorf("invalid mode %q (use chat, complete or stream)", mode)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)
	return nil
}
