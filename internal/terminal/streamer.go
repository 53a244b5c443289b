package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/config"
	"github.com/kandev/examlab/internal/common/constants"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/common/tasklock"
)

type session struct {
	taskID    int
	clientID  string
	shell     Shell
	closeOnce sync.Once
}

func (s *session) close() {
	s.closeOnce.Do(func() { _ = s.shell.Close() })
}

// Streamer owns the session registry.
type Streamer struct {
	backend      Backend
	sink         EventSink
	locks        *tasklock.Locker
	instanceName func(taskID int) string
	cfg          config.TerminalConfig
	logger       *logger.Logger

	mu       sync.Mutex
	sessions map[int]*session
	readers  sync.WaitGroup
}

func NewStreamer(
	backend Backend,
	sink EventSink,
	locks *tasklock.Locker,
	instanceName func(taskID int) string,
	cfg config.TerminalConfig,
	log *logger.Logger,
) *Streamer {
	return &Streamer{
		backend:      backend,
		sink:         sink,
		locks:        locks,
		instanceName: instanceName,
		cfg:          cfg,
		logger:       log.WithComponent("terminal"),
		sessions:     make(map[int]*session),
	}
}

// Connect opens a shell for taskID owned by clientID, preempting any existing session.
func (s *Streamer) Connect(ctx context.Context, taskID int, clientID string) error {
	unlock := s.locks.Lock(taskID)
	defer unlock()

	name := s.instanceName(taskID)
	running, err := s.backend.Running(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", name, err)
	}
	if !running {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	s.Close(taskID)

	shell, err := s.backend.OpenShell(ctx, name, []string{s.cfg.Shell})
	if err != nil {
		return fmt.Errorf("failed to open shell in %s: %w", name, err)
	}

	sess := &session{taskID: taskID, clientID: clientID, shell: shell}
	s.mu.Lock()
	s.sessions[taskID] = sess
	s.mu.Unlock()

	s.logger.Info("terminal session opened", zap.Int("task_id", taskID), zap.String("client_id", clientID))

	s.readers.Add(1)
	go s.readLoop(sess)
	return nil
}

// Send writes raw input to the task's shell.
func (s *Streamer) Send(taskID int, data []byte) error {
	sess := s.get(taskID)
	if sess == nil {
		return ErrNoSession
	}
	if _, err := sess.shell.Write(data); err != nil {
		return &IgnorableError{Op: "send", TaskID: taskID, Err: err}
	}
	return nil
}

// Resize forwards a window size to the shell's PTY.
func (s *Streamer) Resize(ctx context.Context, taskID int, cols, rows uint) error {
	sess := s.get(taskID)
	if sess == nil {
		return ErrNoSession
	}
	if cols == 0 || rows == 0 {
		return &IgnorableError{Op: "resize", TaskID: taskID, Err: fmt.Errorf("invalid size %dx%d", cols, rows)}
	}
	ctx, cancel := context.WithTimeout(ctx, constants.ResizeTimeout)
	defer cancel()
	if err := sess.shell.Resize(ctx, cols, rows); err != nil {
		return &IgnorableError{Op: "resize", TaskID: taskID, Err: err}
	}
	return nil
}

// Close tears down the task's session, if any. The reader then emits the exit event.
func (s *Streamer) Close(taskID int) {
	s.mu.Lock()
	sess := s.sessions[taskID]
	delete(s.sessions, taskID)
	s.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}

// CloseClient tears down every session owned by clientID.
func (s *Streamer) CloseClient(clientID string) {
	var owned []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.clientID == clientID {
			owned = append(owned, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range owned {
		sess.close()
	}
}

// Has reports whether taskID has a live session.
func (s *Streamer) Has(taskID int) bool {
	return s.get(taskID) != nil
}

// Shutdown closes all sessions and waits for their readers, or for ctx.
func (s *Streamer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[int]*session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.close()
	}

	done := make(chan struct{})
	go func() {
		s.readers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Streamer) get(taskID int) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[taskID]
}

func (s *Streamer) readLoop(sess *session) {
	defer s.readers.Done()
	log := s.logger.WithFields(zap.Int("task_id", sess.taskID), zap.String("client_id", sess.clientID))

	buf := make([]byte, s.cfg.ReadBufferSize)
	var pending []byte
	for {
		_ = sess.shell.SetReadDeadline(time.Now().Add(s.cfg.PollInterval()))
		n, err := sess.shell.Read(buf)
		if n > 0 {
			var text string
			text, pending = decodeChunk(pending, buf[:n])
			if text != "" {
				s.sink.Deliver(sess.clientID, Event{Type: EventOutput, TaskID: sess.taskID, Data: text})
			}
		}
		if err == nil || isTimeout(err) {
			continue
		}
		if !isClosed(err) {
			log.Warn("terminal read failed", zap.Error(err))
			s.sink.Deliver(sess.clientID, Event{Type: EventError, TaskID: sess.taskID, Message: err.Error()})
		}
		break
	}

	code := s.exitCode(sess)
	s.sink.Deliver(sess.clientID, Event{Type: EventExit, TaskID: sess.taskID, Code: code})
	sess.close()

	s.mu.Lock()
	if s.sessions[sess.taskID] == sess {
		delete(s.sessions, sess.taskID)
	}
	s.mu.Unlock()

	log.Info("terminal session closed", zap.Int("exit_code", code))
}

// exitCode returns the shell's exit code, or 0 when the engine cannot tell yet.
func (s *Streamer) exitCode(sess *session) int {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ExecInspectTimeout)
	defer cancel()
	if code, ok := sess.shell.ExitCode(ctx); ok {
		return code
	}
	return 0
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// decodeChunk joins pending with chunk and returns the valid text plus an incomplete
// trailing rune to prepend to the next read. Invalid bytes become U+FFFD.
func decodeChunk(pending, chunk []byte) (string, []byte) {
	data := append(pending, chunk...)
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax+1; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	rest := append([]byte(nil), data[cut:]...)
	return toValidUTF8(data[:cut]), rest
}

func toValidUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
