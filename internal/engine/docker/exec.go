package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ExecOutput is the captured result of a one-shot exec.
type ExecOutput struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Exec runs argv inside the container without a TTY and waits for it to finish.
// The run is abandoned when ctx is done; the returned error then wraps ctx.Err().
func (c *Client) Exec(ctx context.Context, ref string, argv []string) (*ExecOutput, error) {
	created, err := c.cli.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, c.wrap(err, "failed to create exec in %s", ref)
	}

	resp, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, c.wrap(err, "failed to attach exec in %s", ref)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		copied <- err
	}()

	select {
	case err := <-copied:
		if err != nil {
			return nil, fmt.Errorf("failed to read exec output in %s: %w", ref, err)
		}
	case <-ctx.Done():
		resp.Close()
		<-copied
		return nil, fmt.Errorf("exec in %s: %w", ref, ctx.Err())
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, c.wrap(err, "failed to inspect exec in %s", ref)
	}

	c.logger.Debug("Exec finished",
		zap.String("container", ref),
		zap.Strings("argv", argv),
		zap.Int("exit_code", inspect.ExitCode),
	)
	return &ExecOutput{ExitCode: inspect.ExitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, nil
}

// ExecSession is a raw duplex channel to an interactive exec with a TTY.
type ExecSession struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
}

// ID returns the engine exec id.
func (s *ExecSession) ID() string { return s.id }

// Read reads PTY output. A deadline error does not poison later reads.
func (s *ExecSession) Read(p []byte) (int, error) { return s.reader.Read(p) }

// Write sends raw bytes to the PTY.
func (s *ExecSession) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *ExecSession) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

func (s *ExecSession) Close() error { return s.conn.Close() }

// ExecInteractive starts cmd inside the container with a TTY and stdin attached.
func (c *Client) ExecInteractive(ctx context.Context, ref string, cmd []string, env []string) (*ExecSession, error) {
	c.logger.Info("Opening interactive exec", zap.String("container", ref), zap.Strings("cmd", cmd))

	created, err := c.cli.ContainerExecCreate(ctx, ref, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, c.wrap(err, "failed to create interactive exec in %s", ref)
	}

	resp, err := c.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, c.wrap(err, "failed to attach interactive exec in %s", ref)
	}

	return &ExecSession{id: created.ID, conn: resp.Conn, reader: resp.Reader}, nil
}

// ExecExitCode returns the exit code of a finished exec. ok is false while it is still running.
func (c *Client) ExecExitCode(ctx context.Context, execID string) (code int, ok bool, err error) {
	inspect, err := c.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return 0, false, c.wrap(err, "failed to inspect exec %s", execID)
	}
	if inspect.Running {
		return 0, false, nil
	}
	return inspect.ExitCode, true, nil
}

// ResizeExec resizes the PTY of an interactive exec.
func (c *Client) ResizeExec(ctx context.Context, execID string, cols, rows uint) error {
	err := c.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{Width: cols, Height: rows})
	if err != nil {
		return c.wrap(err, "failed to resize exec %s", execID)
	}
	return nil
}
