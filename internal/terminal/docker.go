package terminal

import (
	"context"
	"errors"
	"time"

	"github.com/kandev/examlab/internal/engine/docker"
)

// DockerBackend opens shells through docker exec with a TTY.
type DockerBackend struct {
	client *docker.Client
	env    []string
}

func NewDockerBackend(client *docker.Client) *DockerBackend {
	return &DockerBackend{client: client, env: []string{"TERM=xterm-256color"}}
}

func (b *DockerBackend) Running(ctx context.Context, instance string) (bool, error) {
	info, err := b.client.InspectContainer(ctx, instance)
	if errors.Is(err, docker.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Running, nil
}

func (b *DockerBackend) OpenShell(ctx context.Context, instance string, cmd []string) (Shell, error) {
	sess, err := b.client.ExecInteractive(ctx, instance, cmd, b.env)
	if err != nil {
		return nil, err
	}
	return &dockerShell{ExecSession: sess, client: b.client}, nil
}

type dockerShell struct {
	*docker.ExecSession
	client *docker.Client
}

func (s *dockerShell) Resize(ctx context.Context, cols, rows uint) error {
	return s.client.ResizeExec(ctx, s.ID(), cols, rows)
}

// ExitCode polls briefly since the engine may report the exec as running
// for a moment after its stream closes.
func (s *dockerShell) ExitCode(ctx context.Context) (int, bool) {
	for attempt := 0; attempt < 5; attempt++ {
		code, ok, err := s.client.ExecExitCode(ctx, s.ID())
		if err != nil {
			return 0, false
		}
		if ok {
			return code, true
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return 0, false
}
