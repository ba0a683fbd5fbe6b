// Package vllm manages a local vLLM OpenAI-compatible server container.
package vllm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage         = "vllm/vllm-openai:latest"
	DefaultContainerName = "dococr-vllm"
	DefaultPort          = "8001"
	DefaultGPUs          = "all"
	ContainerPort        = "8000/tcp"
	HubCacheDir          = "/root/.cache/huggingface/hub"
	Label                = "dococr-vllm"

	defaultReadyTimeout = 10 * time.Minute
)

// ContainerStatus represents the state of the server container.
type ContainerStatus string

const (
	StatusRunning   ContainerStatus = "running"
	StatusStopped   ContainerStatus = "stopped"
	StatusNotFound  ContainerStatus = "not_found"
	StatusUnhealthy ContainerStatus = "unhealthy"
	StatusStarting  ContainerStatus = "starting"
)

// Config holds configuration for the container manager.
type Config struct {
	ContainerName string
	Image         string
	HostPort      string
	Model         string   // hub repository id, e.g. nanonets/Nanonets-OCR2-3B
	HubCachePath  string   // host hub cache mounted read-only into the container
	GPUs          string   // "all", a count, or "none"
	ExtraArgs     []string // appended to the server command line
	Labels        map[string]string

	// ReadyTimeout bounds the wait for /health after start (default: 10m).
	ReadyTimeout time.Duration
	// PollInterval is the delay between health checks (default: 1s).
	PollInterval time.Duration

	// Client overrides the Docker client built from the environment.
	Client *client.Client
	Logger *slog.Logger
}

// Manager manages the vLLM Docker container lifecycle.
type Manager struct {
	cli           *client.Client
	containerName string
	imageName     string
	hostPort      string
	model         string
	hubCachePath  string
	gpus          string
	extraArgs     []string
	labels        map[string]string
	readyTimeout  time.Duration
	pollInterval  time.Duration
	logger        *slog.Logger
}

// NewManager creates a new container manager.
func NewManager(cfg Config) (*Manager, error) {
	cli := cfg.Client
	if cli == nil {
		var err error
		cli, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
	}

	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultPort
	}
	if cfg.GPUs == "" {
		cfg.GPUs = DefaultGPUs
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &Manager{
		cli:           cli,
		containerName: cfg.ContainerName,
		imageName:     cfg.Image,
		hostPort:      cfg.HostPort,
		model:         cfg.Model,
		hubCachePath:  cfg.HubCachePath,
		gpus:          cfg.GPUs,
		extraArgs:     cfg.ExtraArgs,
		labels:        labels,
		readyTimeout:  cfg.ReadyTimeout,
		pollInterval:  cfg.PollInterval,
		logger:        cfg.Logger,
	}, nil
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// Start starts the server container and waits until /health answers.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning:
		return m.waitForReady(ctx, m.readyTimeout)
	case StatusStopped:
		m.logger.Info("starting existing container", "container", m.containerName)
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
		return m.waitForReady(ctx, m.readyTimeout)
	case StatusNotFound:
		return m.createAndStart(ctx)
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}
}

// Stop stops the server container.
func (m *Manager) Stop(ctx context.Context) error {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	timeout := 30
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Remove stops and removes the server container.
func (m *Manager) Remove(ctx context.Context) error {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}

	if status == StatusRunning {
		if err := m.Stop(ctx); err != nil {
			return err
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Status returns the current status of the server container.
func (m *Manager) Status(ctx context.Context) (ContainerStatus, error) {
	status, _, err := m.getContainerStatus(ctx)
	return status, err
}

// Logs returns the container logs.
func (m *Manager) Logs(ctx context.Context, tail string) (string, error) {
	status, containerID, err := m.getContainerStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container %s not found", m.containerName)
	}

	logs, err := m.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer logs.Close()

	logBytes, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(logBytes), nil
}

// URL returns the server root URL.
func (m *Manager) URL() string {
	return fmt.Sprintf("http://localhost:%s", m.hostPort)
}

// BaseURL returns the OpenAI-compatible API base (URL + /v1).
func (m *Manager) BaseURL() string {
	return m.URL() + "/v1"
}

// ContainerName returns the managed container's name.
func (m *Manager) ContainerName() string {
	return m.containerName
}

// WaitReady waits for the server to answer /health.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) error {
	return m.waitForReady(ctx, timeout)
}

// containerSpec builds the container and host configuration.
func (m *Manager) containerSpec() (*container.Config, *container.HostConfig, error) {
	if m.model == "" {
		return nil, nil, fmt.Errorf("no model configured")
	}

	cmd := []string{
		"--model", m.model,
		"--host", "0.0.0.0",
		"--port", strings.TrimSuffix(ContainerPort, "/tcp"),
	}
	cmd = append(cmd, m.extraArgs...)

	containerConfig := &container.Config{
		Image:  m.imageName,
		Cmd:    cmd,
		Env:    []string{"HF_HUB_OFFLINE=1"},
		Labels: m.labels,
		ExposedPorts: nat.PortSet{
			ContainerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			ContainerPort: []nat.PortBinding{
				{HostIP: "127.0.0.1", HostPort: m.hostPort},
			},
		},
		IpcMode: container.IpcMode("host"),
	}

	if m.hubCachePath != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: m.hubCachePath,
				Target: HubCacheDir,
			},
		}
	}

	devices, err := deviceRequests(m.gpus)
	if err != nil {
		return nil, nil, err
	}
	hostConfig.DeviceRequests = devices

	return containerConfig, hostConfig, nil
}

// deviceRequests maps the gpus setting to an NVIDIA device request.
func deviceRequests(gpus string) ([]container.DeviceRequest, error) {
	switch strings.ToLower(strings.TrimSpace(gpus)) {
	case "", "none", "0":
		return nil, nil
	case "all":
		return []container.DeviceRequest{{Driver: "nvidia", Count: -1, Capabilities: [][]string{{"gpu"}}}}, nil
	}
	n, err := strconv.Atoi(gpus)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid gpus value %q (want all, none or a count)", gpus)
	}
	return []container.DeviceRequest{{Driver: "nvidia", Count: n, Capabilities: [][]string{{"gpu"}}}}, nil
}

// createAndStart creates and starts a new server container.
func (m *Manager) createAndStart(ctx context.Context) error {
	containerConfig, hostConfig, err := m.containerSpec()
	if err != nil {
		return err
	}

	if err := m.ensureImage(ctx); err != nil {
		return err
	}

	m.logger.Info("creating container", "container", m.containerName, "image", m.imageName, "model", m.model, "port", m.hostPort)
	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, m.containerName)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}

	return m.waitForReady(ctx, m.readyTimeout)
}

// getContainerStatus returns the status and ID of the container.
func (m *Manager) getContainerStatus(ctx context.Context) (ContainerStatus, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", "^/"+m.containerName+"$")

	containers, err := m.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		return StatusNotFound, "", nil
	}

	c := containers[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

// waitForReady polls the server's health endpoint until ready. Model
// loading takes minutes, so attempts are sized from timeout.
func (m *Manager) waitForReady(ctx context.Context, timeout time.Duration) error {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	url := m.URL() + "/health"

	attempts := uint(timeout / m.pollInterval)
	if attempts == 0 {
		attempts = 1
	}

	m.logger.Info("waiting for server", "url", url, "timeout", timeout)
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(m.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// ensureImage pulls the image if not present.
func (m *Manager) ensureImage(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.imageName); err == nil {
		return nil
	}

	m.logger.Info("pulling image", "image", m.imageName)
	reader, err := m.cli.ImagePull(ctx, m.imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Drain reader to complete pull
	_, err = io.Copy(io.Discard, reader)
	return err
}
