// Package container runs the inference server (vLLM serving DeepSeek-OCR) as
// a Docker container managed alongside docstream.
package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
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
	DefaultImage  = "vllm/vllm-openai:latest"
	DefaultName   = "docstream-engine"
	DefaultPort   = "8000"
	DefaultModel  = "deepseek-ai/DeepSeek-OCR"
	ContainerPort = "8000/tcp"
	ModelCacheDir = "/root/.cache/huggingface"
	Label         = "docstream-engine"
)

// Status represents the state of the inference container.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusNotFound Status = "not_found"
	StatusStarting Status = "starting"
)

// Config holds configuration for the container manager.
type Config struct {
	Name         string
	Image        string
	Model        string
	HostPort     string
	GPUs         string // "all", "0", "0,1"; empty disables GPU requests
	ModelCache   string // host path mounted as the Hugging Face cache
	ReadyTimeout time.Duration
	Labels       map[string]string
	Logger       *slog.Logger
}

// Manager manages the inference container lifecycle.
type Manager struct {
	cli          *client.Client
	name         string
	imageName    string
	model        string
	hostPort     string
	gpus         string
	modelCache   string
	readyTimeout time.Duration
	labels       map[string]string
	logger       *slog.Logger
}

// New creates a container manager using the Docker environment settings.
func New(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newManager(cli, cfg), nil
}

func newManager(cli *client.Client, cfg Config) *Manager {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultPort
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	labels := map[string]string{Label: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	return &Manager{
		cli:          cli,
		name:         cfg.Name,
		imageName:    cfg.Image,
		model:        cfg.Model,
		hostPort:     cfg.HostPort,
		gpus:         cfg.GPUs,
		modelCache:   cfg.ModelCache,
		readyTimeout: cfg.ReadyTimeout,
		labels:       labels,
		logger:       logger.With("container", cfg.Name),
	}
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

// URL returns the OpenAI-compatible base URL of the inference server.
func (m *Manager) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%s/v1", m.hostPort)
}

// Start starts the inference container and waits until it serves requests.
func (m *Manager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, containerID, err := m.containerStatus(ctx)
	if err != nil {
		return err
	}

	switch status {
	case StatusRunning, StatusStarting:
		m.logger.Info("inference container already present", "status", status)
	case StatusStopped:
		m.logger.Info("starting existing inference container")
		if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("failed to start existing container: %w", err)
		}
	case StatusNotFound:
		if err := m.createAndStart(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}

	return m.waitForReady(ctx)
}

// Stop stops the inference container.
func (m *Manager) Stop(ctx context.Context) error {
	status, containerID, err := m.containerStatus(ctx)
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

// Remove stops and removes the inference container.
func (m *Manager) Remove(ctx context.Context) error {
	status, containerID, err := m.containerStatus(ctx)
	if err != nil {
		return err
	}
	if status == StatusNotFound {
		return nil
	}
	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Status returns the current container status.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	status, _, err := m.containerStatus(ctx)
	return status, err
}

// Logs returns the tail of the container logs.
func (m *Manager) Logs(ctx context.Context, tail string) (string, error) {
	status, containerID, err := m.containerStatus(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container not found")
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

	data, err := io.ReadAll(logs)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(data), nil
}

func (m *Manager) createAndStart(ctx context.Context) error {
	if err := m.ensureImage(ctx); err != nil {
		return err
	}

	containerConfig, hostConfig := m.buildConfig()

	m.logger.Info("creating inference container", "image", m.imageName, "model", m.model, "gpus", m.gpus)
	resp, err := m.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, m.name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// buildConfig returns the container and host configuration for a new container.
func (m *Manager) buildConfig() (*container.Config, *container.HostConfig) {
	containerConfig := &container.Config{
		Image: m.imageName,
		Cmd: []string{
			"--model", m.model,
			"--port", strings.TrimSuffix(ContainerPort, "/tcp"),
			"--trust-remote-code",
			"--no-enable-prefix-caching",
		},
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
		IpcMode: "host",
	}
	hostConfig.DeviceRequests = deviceRequests(m.gpus)

	if m.modelCache != "" {
		hostConfig.Mounts = []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: m.modelCache,
				Target: ModelCacheDir,
			},
		}
	}
	return containerConfig, hostConfig
}

// deviceRequests translates a GPU selector into Docker device requests.
func deviceRequests(gpus string) []container.DeviceRequest {
	gpus = strings.TrimSpace(gpus)
	if gpus == "" {
		return nil
	}
	req := container.DeviceRequest{
		Driver:       "nvidia",
		Capabilities: [][]string{{"gpu"}},
	}
	if gpus == "all" {
		req.Count = -1
	} else {
		for _, id := range strings.Split(gpus, ",") {
			if id = strings.TrimSpace(id); id != "" {
				req.DeviceIDs = append(req.DeviceIDs, id)
			}
		}
	}
	return []container.DeviceRequest{req}
}

func (m *Manager) containerStatus(ctx context.Context) (Status, string, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("name", m.name)

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
		return Status(c.State), c.ID, nil
	}
}

// waitForReady polls the models endpoint until the server has loaded the model.
func (m *Manager) waitForReady(ctx context.Context) error {
	m.logger.Info("waiting for inference server", "url", m.URL(), "timeout", m.readyTimeout)
	return probeReady(ctx, m.URL()+"/models", m.readyTimeout, 2*time.Second)
}

func probeReady(ctx context.Context, url string, timeout, interval time.Duration) error {
	httpClient := &http.Client{Timeout: interval}
	attempts := uint(timeout / interval)
	if attempts == 0 {
		attempts = 1
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
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
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (m *Manager) ensureImage(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.imageName); err == nil {
		return nil
	}

	m.logger.Info("pulling inference image", "image", m.imageName)
	reader, err := m.cli.ImagePull(ctx, m.imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
