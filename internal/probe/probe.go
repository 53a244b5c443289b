// Package probe runs short read-only commands inside an environment instance.
//
// Execute never returns an error: engine failures and timeouts are folded into a
// Result carrying SentinelExitCode so callers can treat every outcome uniformly.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/engine/docker"
	"github.com/kandev/examlab/internal/tracing"
)

// SentinelExitCode marks a probe that could not run to completion.
const SentinelExitCode = -1

// Result is the outcome of one probe.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Failed reports whether the probe could not run at all.
func (r Result) Failed() bool { return r.ExitCode == SentinelExitCode }

// Engine is the exec surface the executor needs.
type Engine interface {
	Exec(ctx context.Context, ref string, argv []string) (*docker.ExecOutput, error)
}

// Executor runs probes with a default timeout.
type Executor struct {
	engine  Engine
	timeout time.Duration
	logger  *logger.Logger
}

func NewExecutor(engine Engine, defaultTimeout time.Duration, log *logger.Logger) *Executor {
	return &Executor{engine: engine, timeout: defaultTimeout, logger: log.WithComponent("probe")}
}

// Run executes argv with the default timeout.
func (e *Executor) Run(ctx context.Context, instance string, argv []string) Result {
	return e.Execute(ctx, instance, argv, e.timeout)
}

// Execute runs argv inside instance and waits at most timeout.
func (e *Executor) Execute(ctx context.Context, instance string, argv []string, timeout time.Duration) Result {
	ctx, span := tracing.TraceProbe(ctx, instance, argv)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := e.engine.Exec(runCtx, instance, argv)
	if err != nil {
		res := Result{ExitCode: SentinelExitCode, Stderr: describe(runCtx, err, timeout)}
		e.logger.Debug("probe failed",
			zap.String("instance", instance),
			zap.Strings("argv", argv),
			zap.String("reason", res.Stderr),
		)
		tracing.EndWithStatus(span, "sentinel", err)
		return res
	}

	res := Result{
		ExitCode: out.ExitCode,
		Stdout:   strings.ToValidUTF8(string(out.Stdout), "�"),
		Stderr:   strings.ToValidUTF8(string(out.Stderr), "�"),
	}
	tracing.EndWithStatus(span, fmt.Sprintf("exit=%d", res.ExitCode), nil)
	return res
}

func describe(runCtx context.Context, err error, timeout time.Duration) string {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("command timed out after %s", timeout)
	case errors.Is(err, docker.ErrNotFound):
		return fmt.Sprintf("container not found: %v", err)
	default:
		return err.Error()
	}
}
