package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/engine/docker"
)

type mockEngine struct {
	execFn func(ctx context.Context, ref string, argv []string) (*docker.ExecOutput, error)
}

func (m *mockEngine) Exec(ctx context.Context, ref string, argv []string) (*docker.ExecOutput, error) {
	return m.execFn(ctx, ref, argv)
}

func TestExecute_CapturesOutput(t *testing.T) {
	eng := &mockEngine{execFn: func(_ context.Context, ref string, argv []string) (*docker.ExecOutput, error) {
		assert.Equal(t, "rhcsa-task-1", ref)
		assert.Equal(t, []string{"hostname", "-f"}, argv)
		return &docker.ExecOutput{ExitCode: 0, Stdout: []byte("node1.example.com\n")}, nil
	}}
	ex := NewExecutor(eng, time.Second, logger.NewNop())

	res := ex.Run(context.Background(), "rhcsa-task-1", []string{"hostname", "-f"})
	assert.True(t, res.OK())
	assert.Equal(t, "node1.example.com\n", res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestExecute_NonZeroExitIsNotSentinel(t *testing.T) {
	eng := &mockEngine{execFn: func(context.Context, string, []string) (*docker.ExecOutput, error) {
		return &docker.ExecOutput{ExitCode: 1, Stderr: []byte("no such user")}, nil
	}}
	res := NewExecutor(eng, time.Second, logger.NewNop()).Run(context.Background(), "x", []string{"id", "-u", "bob"})
	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Failed())
	assert.Equal(t, "no such user", res.Stderr)
}

func TestExecute_InvalidUTF8Replaced(t *testing.T) {
	eng := &mockEngine{execFn: func(context.Context, string, []string) (*docker.ExecOutput, error) {
		return &docker.ExecOutput{Stdout: []byte{'o', 'k', 0xff, 0xfe}}, nil
	}}
	res := NewExecutor(eng, time.Second, logger.NewNop()).Run(context.Background(), "x", []string{"cat"})
	assert.Equal(t, "ok�", res.Stdout)
}

func TestExecute_TimeoutYieldsSentinel(t *testing.T) {
	eng := &mockEngine{execFn: func(ctx context.Context, _ string, _ []string) (*docker.ExecOutput, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("exec: %w", ctx.Err())
	}}
	ex := NewExecutor(eng, time.Second, logger.NewNop())

	start := time.Now()
	res := ex.Execute(context.Background(), "x", []string{"sleep", "60"}, 50*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.True(t, res.Failed())
	assert.Equal(t, "command timed out after 50ms", res.Stderr)
}

func TestExecute_NotFoundYieldsSentinel(t *testing.T) {
	eng := &mockEngine{execFn: func(context.Context, string, []string) (*docker.ExecOutput, error) {
		return nil, fmt.Errorf("failed to create exec in rhcsa-task-9: %w: No such container", docker.ErrNotFound)
	}}
	res := NewExecutor(eng, time.Second, logger.NewNop()).Run(context.Background(), "rhcsa-task-9", []string{"true"})
	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Contains(t, res.Stderr, "container not found")
	assert.Contains(t, res.Stderr, "No such container")
}

func TestExecute_TransportErrorYieldsSentinel(t *testing.T) {
	eng := &mockEngine{execFn: func(context.Context, string, []string) (*docker.ExecOutput, error) {
		return nil, errors.New("connection refused")
	}}
	res := NewExecutor(eng, time.Second, logger.NewNop()).Run(context.Background(), "x", []string{"true"})
	assert.Equal(t, SentinelExitCode, res.ExitCode)
	assert.Equal(t, "connection refused", res.Stderr)
}
