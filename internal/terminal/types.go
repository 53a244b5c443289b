// Package terminal streams interactive shells running inside task instances to remote clients.
//
// Each task id has at most one session. A session owns a raw duplex channel to a shell
// with a PTY and exactly one reader goroutine that forwards output to the client that
// opened it.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// EventType names a session notification.
type EventType string

const (
	EventOutput EventType = "output"
	EventError  EventType = "error"
	EventExit   EventType = "exit"
)

// Event is delivered to the client that owns a session.
type Event struct {
	Type    EventType
	TaskID  int
	Data    string // output
	Message string // error
	Code    int    // exit
}

// EventSink delivers session events to a client. Calls for one session are sequential.
type EventSink interface {
	Deliver(clientID string, evt Event)
}

// Shell is the raw channel to an interactive process.
type Shell interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	Resize(ctx context.Context, cols, rows uint) error
	// ExitCode reports the process exit code once it has finished.
	ExitCode(ctx context.Context) (int, bool)
}

// Backend opens shells inside instances.
type Backend interface {
	Running(ctx context.Context, instance string) (bool, error)
	OpenShell(ctx context.Context, instance string, cmd []string) (Shell, error)
}

var (
	// ErrNotRunning is returned by Connect when the instance is not running.
	ErrNotRunning = errors.New("container not running")
	// ErrNoSession is returned by Send and Resize when the task has no session.
	ErrNoSession = errors.New("no terminal session")
)

// IgnorableError wraps a failure on a best-effort path. Callers log it and move on.
type IgnorableError struct {
	Op     string
	TaskID int
	Err    error
}

func (e *IgnorableError) Error() string {
	return fmt.Sprintf("terminal %s for task %d: %v", e.Op, e.TaskID, e.Err)
}

func (e *IgnorableError) Unwrap() error { return e.Err }

// IsIgnorable reports whether err came from a best-effort operation, including a missing session.
func IsIgnorable(err error) bool {
	var ie *IgnorableError
	return errors.As(err, &ie) || errors.Is(err, ErrNoSession)
}
