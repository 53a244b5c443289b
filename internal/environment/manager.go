// Package environment manages the lifecycle of the per-task containers.
package environment

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/config"
	"github.com/kandev/examlab/internal/common/constants"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/common/tasklock"
	"github.com/kandev/examlab/internal/engine/docker"
	"github.com/kandev/examlab/internal/events"
	"github.com/kandev/examlab/internal/events/bus"
	"github.com/kandev/examlab/internal/task/state"
	"github.com/kandev/examlab/internal/tracing"
)

// Status is the live engine view of an instance.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusAbsent  Status = "absent"
)

// TaskLabel tags containers with their task id.
const TaskLabel = "examlab.task"

// Engine is the container surface the manager needs.
type Engine interface {
	InspectContainer(ctx context.Context, ref string) (*docker.ContainerInfo, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, cfg docker.ContainerConfig) (string, error)
	StartContainer(ctx context.Context, ref string) error
	StopContainer(ctx context.Context, ref string, graceSeconds int) error
	RemoveContainer(ctx context.Context, ref string, force bool) error
}

// SessionCloser tears down the interactive session bound to a task.
type SessionCloser interface {
	Close(taskID int)
}

// StatusRecorder stores lifecycle outcomes.
type StatusRecorder interface {
	SetStatus(taskID int, status state.Status, errMsg string) state.TaskState
}

// Environment describes an instance for the routing layer.
type Environment struct {
	TaskID    int       `json:"taskId"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Image     string    `json:"image,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Manager creates, starts, stops and resets task instances. Operations on the same
// task id are serialized through the shared task lock.
type Manager struct {
	engine   Engine
	sessions SessionCloser
	store    StatusRecorder
	eventBus bus.EventBus
	locks    *tasklock.Locker
	cfg      config.EnvironmentConfig
	logger   *logger.Logger
}

func NewManager(
	engine Engine,
	sessions SessionCloser,
	store StatusRecorder,
	eventBus bus.EventBus,
	locks *tasklock.Locker,
	cfg config.EnvironmentConfig,
	log *logger.Logger,
) *Manager {
	return &Manager{
		engine:   engine,
		sessions: sessions,
		store:    store,
		eventBus: eventBus,
		locks:    locks,
		cfg:      cfg,
		logger:   log.WithComponent("environment"),
	}
}

// InstanceName returns the container name for taskID.
func (m *Manager) InstanceName(taskID int) string {
	return m.cfg.InstanceName(taskID)
}

// Ensure makes the instance exist and run. Calling it on a running instance is a no-op.
func (m *Manager) Ensure(ctx context.Context, taskID int) error {
	unlock := m.locks.Lock(taskID)
	defer unlock()

	ctx, span := tracing.TraceLifecycle(ctx, "ensure", taskID, m.InstanceName(taskID))
	err := m.ensure(ctx, taskID)
	tracing.EndWithStatus(span, "", err)

	m.record(ctx, taskID, state.StatusRunning, events.EnvironmentStarted, err)
	return err
}

// Stop closes any session and stops the instance. A missing instance counts as stopped.
func (m *Manager) Stop(ctx context.Context, taskID int) error {
	unlock := m.locks.Lock(taskID)
	defer unlock()

	name := m.InstanceName(taskID)
	ctx, span := tracing.TraceLifecycle(ctx, "stop", taskID, name)

	m.sessions.Close(taskID)
	err := m.engine.StopContainer(ctx, name, constants.ContainerStopGrace)
	if errors.Is(err, docker.ErrNotFound) {
		m.logger.Debug("stop on absent instance", zap.String("instance", name))
		err = nil
	}
	tracing.EndWithStatus(span, "", err)

	m.record(ctx, taskID, state.StatusStopped, events.EnvironmentStopped, err)
	return err
}

// Reset closes any session, removes the instance, and creates a fresh one.
func (m *Manager) Reset(ctx context.Context, taskID int) error {
	unlock := m.locks.Lock(taskID)
	defer unlock()

	name := m.InstanceName(taskID)
	ctx, span := tracing.TraceLifecycle(ctx, "reset", taskID, name)

	m.sessions.Close(taskID)
	err := m.destroy(ctx, name)
	if err == nil {
		err = m.ensure(ctx, taskID)
	}
	tracing.EndWithStatus(span, "", err)

	m.record(ctx, taskID, state.StatusRunning, events.EnvironmentReset, err)
	return err
}

// Status queries the engine for the instance state.
func (m *Manager) Status(ctx context.Context, taskID int) (Status, error) {
	env, err := m.Describe(ctx, taskID)
	if err != nil {
		return "", err
	}
	return env.Status, nil
}

// Describe returns the live view of the instance.
func (m *Manager) Describe(ctx context.Context, taskID int) (*Environment, error) {
	name := m.InstanceName(taskID)
	env := &Environment{TaskID: taskID, Name: name, Status: StatusAbsent}

	info, err := m.engine.InspectContainer(ctx, name)
	if errors.Is(err, docker.ErrNotFound) {
		return env, nil
	}
	if err != nil {
		return nil, err
	}

	env.Image = info.Image
	env.Status = StatusStopped
	if info.Running {
		env.Status = StatusRunning
		env.StartedAt = info.StartedAt
	}
	return env, nil
}

func (m *Manager) ensure(ctx context.Context, taskID int) error {
	name := m.InstanceName(taskID)

	info, err := m.engine.InspectContainer(ctx, name)
	switch {
	case err == nil && info.Running:
		return nil
	case err == nil:
		return m.engine.StartContainer(ctx, name)
	case !errors.Is(err, docker.ErrNotFound):
		return err
	}

	if err := m.ensureImage(ctx); err != nil {
		return err
	}

	_, err = m.engine.CreateContainer(ctx, docker.ContainerConfig{
		Name:   name,
		Image:  m.cfg.Image,
		Cmd:    []string{"sleep", "infinity"},
		Labels: map[string]string{TaskLabel: strconv.Itoa(taskID)},
		Tty:    true,
	})
	if err != nil {
		return err
	}
	return m.engine.StartContainer(ctx, name)
}

func (m *Manager) ensureImage(ctx context.Context) error {
	if !m.cfg.PullMissing {
		return nil
	}
	exists, err := m.engine.ImageExists(ctx, m.cfg.Image)
	if err != nil || exists {
		return err
	}
	pullCtx, cancel := context.WithTimeout(ctx, constants.ImagePullTimeout)
	defer cancel()
	return m.engine.PullImage(pullCtx, m.cfg.Image)
}

// destroy force-removes the instance; absence is fine.
func (m *Manager) destroy(ctx context.Context, name string) error {
	if err := m.engine.StopContainer(ctx, name, constants.ContainerStopGrace); err != nil && !errors.Is(err, docker.ErrNotFound) {
		m.logger.Warn("stop before remove failed", zap.String("instance", name), zap.Error(err))
	}
	if err := m.engine.RemoveContainer(ctx, name, true); err != nil && !errors.Is(err, docker.ErrNotFound) {
		return err
	}
	return nil
}

// record stores the outcome and publishes it. On failure the task is marked StatusError.
func (m *Manager) record(ctx context.Context, taskID int, ok state.Status, eventType string, err error) {
	log := m.logger.WithTaskID(taskID)

	status, msg := ok, ""
	if err != nil {
		status, msg, eventType = state.StatusError, err.Error(), events.EnvironmentFailed
		log.Error("environment operation failed", zap.Error(err))
	} else {
		log.Info("environment updated", zap.String("status", string(status)))
	}
	m.store.SetStatus(taskID, status, msg)

	if m.eventBus == nil {
		return
	}
	data := map[string]any{"taskId": taskID, "status": string(status)}
	if msg != "" {
		data["error"] = msg
	}
	if perr := m.eventBus.Publish(ctx, events.LifecycleSubject(taskID), bus.NewEvent(eventType, "environment", data)); perr != nil {
		log.Warn("failed to publish lifecycle event", zap.Error(perr))
	}
}
