package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bybsong/vllm/internal/config"
	"github.com/bybsong/vllm/internal/home"
	"github.com/bybsong/vllm/internal/vllm"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the local vLLM server container",
	Long: `Run the vLLM OpenAI-compatible server in Docker.

The hub cache (~/.dococr/models/hub, see "dococr download") is mounted into the
container and the server runs with HF_HUB_OFFLINE=1, so download the model
first.`,
}

var serverUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the server and wait until it is ready",
	Long: `Start the server container (creating it if needed) and wait until /health
answers.

Examples:
  dococr server up
  dococr server up --model tencent/HunyuanOCR --port 8006
  dococr server up -- --max-model-len 16384 --gpu-memory-utilization 0.8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		m, cfg, err := newServerManager(cmd, args, logger)
		if err != nil {
			return err
		}
		defer m.Close()

		logger.Info("starting server", "container", m.ContainerName(), "model", cfg.Server.Model)
		if err := m.Start(cmd.Context()); err != nil {
			return err
		}
		logger.Info("server ready", "base_url", m.BaseURL())
		return writeServerStatus(cmd, cfg, m)
	},
}

var serverDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop the server container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cmd)
		m, _, err := newServerManager(cmd, nil, logger)
		if err != nil {
			return err
		}
		defer m.Close()

		if remove, _ := cmd.Flags().GetBool("remove"); remove {
			if err := m.Remove(cmd.Context()); err != nil {
				return err
			}
			logger.Info("server removed", "container", m.ContainerName())
			return nil
		}
		if err := m.Stop(cmd.Context()); err != nil {
			return err
		}
		logger.Info("server stopped", "container", m.ContainerName())
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server container status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cfg, err := newServerManager(cmd, nil, newLogger(cmd))
		if err != nil {
			return err
		}
		defer m.Close()
		return writeServerStatus(cmd, cfg, m)
	},
}

var serverLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the server container logs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := newServerManager(cmd, nil, newLogger(cmd))
		if err != nil {
			return err
		}
		defer m.Close()

		tail, _ := cmd.Flags().GetString("tail")
		logs, err := m.Logs(cmd.Context(), tail)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), logs)
		return nil
	},
}

type serverStatus struct {
	Container string `json:"container" yaml:"container"`
	Status    string `json:"status" yaml:"status"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
}

func init() {
	f := serverCmd.PersistentFlags()
	f.String("model", "", "model to serve (default: server.model)")
	f.String("port", "", "host port (default: server.port)")
	f.String("image", "", "server image (default: server.image)")
	f.String("gpus", "", `GPUs to expose: "all", a count, or "none" (default: server.gpus)`)

	serverDownCmd.Flags().Bool("remove", false, "remove the container after stopping it")
	serverLogsCmd.Flags().String("tail", "200", `number of lines from the end, or "all"`)

	serverCmd.AddCommand(serverUpCmd, serverDownCmd, serverStatusCmd, serverLogsCmd)
	rootCmd.AddCommand(serverCmd)
}

// newServerManager builds a container manager from config and flags.
// Arguments after "--" are passed to the server command line.
func newServerManager(cmd *cobra.Command, extraArgs []string, logger *slog.Logger) (*vllm.Manager, *config.Config, error) {
	cm, h, err := loadConfig(logger)
	if err != nil {
		return nil, nil, err
	}
	cfg := cm.Get()
	applyServerFlags(cmd, &cfg.Server)

	mcfg, err := serverConfig(cfg, h, extraArgs)
	if err != nil {
		return nil, nil, err
	}
	mcfg.Logger = logger

	m, err := vllm.NewManager(mcfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

func applyServerFlags(cmd *cobra.Command, s *config.ServerCfg) {
	for name, dst := range map[string]*string{
		"model": &s.Model,
		"port":  &s.Port,
		"image": &s.Image,
		"gpus":  &s.GPUs,
	} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			*dst = v
		}
	}
}

// serverConfig maps the server and hub sections onto a manager config.
func serverConfig(cfg *config.Config, h *home.Dir, extraArgs []string) (vllm.Config, error) {
	cacheDir := cfg.Hub.CacheDir
	if cacheDir == "" {
		if err := h.EnsureExists(); err != nil {
			return vllm.Config{}, err
		}
		cacheDir = h.HubCachePath()
	}

	args := append([]string{}, cfg.Server.ExtraArgs...)
	args = append(args, extraArgs...)

	return vllm.Config{
		ContainerName: cfg.Server.ContainerName,
		Image:         cfg.Server.Image,
		HostPort:      cfg.Server.Port,
		Model:         cfg.Server.Model,
		HubCachePath:  cacheDir,
		GPUs:          cfg.Server.GPUs,
		ExtraArgs:     args,
		ReadyTimeout:  time.Duration(cfg.Server.ReadyTimeoutSeconds) * time.Second,
	}, nil
}

func writeServerStatus(cmd *cobra.Command, cfg *config.Config, m *vllm.Manager) error {
	status, err := m.Status(cmd.Context())
	if err != nil {
		return err
	}
	return writeOutput(cmd, cfg, serverStatus{
		Container: m.ContainerName(),
		Status:    string(status),
		BaseURL:   m.BaseURL(),
	})
}
