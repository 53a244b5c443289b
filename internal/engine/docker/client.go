// Package docker wraps the Docker SDK to provide the environment engine:
// container lifecycle, one-shot exec for probes, and interactive exec sessions.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/config"
	"github.com/kandev/examlab/internal/common/logger"
)

// ErrNotFound is returned (wrapped) when the named container or exec does not exist.
var ErrNotFound = errors.New("not found")

// ContainerConfig holds configuration for creating an environment container.
type ContainerConfig struct {
	Name   string
	Image  string
	Cmd    []string
	Env    []string
	Labels map[string]string
	Tty    bool
}

// ContainerInfo holds the parts of an inspect response the service cares about.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     string // created, running, paused, restarting, removing, exited, dead
	Running   bool
	StartedAt time.Time
}

// Client wraps the Docker client.
type Client struct {
	cli    *client.Client
	logger *logger.Logger
	config config.DockerConfig
}

// NewClient creates a new Docker client. DOCKER_HOST and friends apply unless cfg overrides them.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	log = log.WithComponent("docker")
	log.Info("Docker client created",
		zap.String("host", cli.DaemonHost()),
		zap.String("api_version", cfg.APIVersion),
	)

	return &Client{cli: cli, logger: log, config: cfg}, nil
}

// Close closes the Docker client.
func (c *Client) Close() error {
	c.logger.Debug("Closing Docker client")
	return c.cli.Close()
}

// Ping checks if Docker is available.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		c.logger.Debug("Docker ping failed", zap.Error(err))
		return fmt.Errorf("docker ping failed: %w", err)
	}
	return nil
}

// ServerVersion returns the daemon version string.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to query docker version: %w", err)
	}
	return v.Version, nil
}

// ImageExists reports whether ref is present locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := c.cli.ImageInspect(ctx, ref)
	if err == nil {
		return true, nil
	}
	if cerrdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", ref, err)
}

// PullImage pulls an image and drains the progress stream.
func (c *Client) PullImage(ctx context.Context, ref string) error {
	c.logger.Info("Pulling image", zap.String("image", ref))

	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		c.logger.Error("Failed to pull image", zap.String("image", ref), zap.Error(err))
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}

	c.logger.Info("Image pulled", zap.String("image", ref))
	return nil
}

// CreateContainer creates a detached container and returns its id.
func (c *Client) CreateContainer(ctx context.Context, cfg ContainerConfig) (string, error) {
	c.logger.Info("Creating container",
		zap.String("name", cfg.Name),
		zap.String("image", cfg.Image),
	)

	containerCfg := &container.Config{
		Image:  cfg.Image,
		Cmd:    cfg.Cmd,
		Env:    cfg.Env,
		Labels: cfg.Labels,
		Tty:    cfg.Tty,
	}
	hostCfg := &container.HostConfig{AutoRemove: false}

	resp, err := c.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, cfg.Name)
	if err != nil {
		c.logger.Error("Failed to create container", zap.String("name", cfg.Name), zap.Error(err))
		return "", fmt.Errorf("failed to create container %s: %w", cfg.Name, err)
	}

	c.logger.Info("Container created", zap.String("id", resp.ID), zap.String("name", cfg.Name))
	return resp.ID, nil
}

// StartContainer starts a container by id or name.
func (c *Client) StartContainer(ctx context.Context, ref string) error {
	c.logger.Info("Starting container", zap.String("container", ref))

	if err := c.cli.ContainerStart(ctx, ref, container.StartOptions{}); err != nil {
		c.logger.Error("Failed to start container", zap.String("container", ref), zap.Error(err))
		return c.wrap(err, "failed to start container %s", ref)
	}
	return nil
}

// StopContainer stops a container, giving it graceSeconds before SIGKILL.
func (c *Client) StopContainer(ctx context.Context, ref string, graceSeconds int) error {
	c.logger.Info("Stopping container", zap.String("container", ref), zap.Int("grace_seconds", graceSeconds))

	if err := c.cli.ContainerStop(ctx, ref, container.StopOptions{Timeout: &graceSeconds}); err != nil {
		return c.wrap(err, "failed to stop container %s", ref)
	}
	return nil
}

// RemoveContainer removes a container and its anonymous volumes.
func (c *Client) RemoveContainer(ctx context.Context, ref string, force bool) error {
	c.logger.Info("Removing container", zap.String("container", ref), zap.Bool("force", force))

	err := c.cli.ContainerRemove(ctx, ref, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil {
		return c.wrap(err, "failed to remove container %s", ref)
	}
	return nil
}

// InspectContainer returns the container state. Missing containers yield an error wrapping ErrNotFound.
func (c *Client) InspectContainer(ctx context.Context, ref string) (*ContainerInfo, error) {
	inspect, err := c.cli.ContainerInspect(ctx, ref)
	if err != nil {
		return nil, c.wrap(err, "failed to inspect container %s", ref)
	}

	info := &ContainerInfo{ID: inspect.ID, Name: trimSlash(inspect.Name)}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
	}
	if inspect.State != nil {
		info.State = string(inspect.State.Status)
		info.Running = inspect.State.Running
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			info.StartedAt = t
		}
	}
	return info, nil
}

// wrap formats an engine error, tagging not-found responses with ErrNotFound
// while keeping the engine's own message.
func (c *Client) wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cerrdefs.IsNotFound(err) {
		return fmt.Errorf("%s: %w: %w", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}
