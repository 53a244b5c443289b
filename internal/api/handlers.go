package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/checks"
	"github.com/kandev/examlab/internal/common/constants"
	"github.com/kandev/examlab/internal/common/errors"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/environment"
	"github.com/kandev/examlab/internal/task/catalog"
	"github.com/kandev/examlab/internal/task/state"
)

// Lifecycle drives the per-task environments.
type Lifecycle interface {
	Ensure(ctx context.Context, taskID int) error
	Stop(ctx context.Context, taskID int) error
	Reset(ctx context.Context, taskID int) error
	Describe(ctx context.Context, taskID int) (*environment.Environment, error)
}

// CheckRunner runs a task's verification routine.
type CheckRunner interface {
	Run(ctx context.Context, taskID int) checks.Result
}

// EngineInfo reports the container engine version.
type EngineInfo interface {
	ServerVersion(ctx context.Context) (string, error)
}

// Catalog lists the known tasks.
type Catalog interface {
	List() []catalog.Descriptor
	Get(id int) (catalog.Descriptor, bool)
}

// StateReader reads the task state table.
type StateReader interface {
	Get(taskID int) (state.TaskState, bool)
}

// Handler contains the HTTP handlers
type Handler struct {
	lifecycle Lifecycle
	checks    CheckRunner
	engine    EngineInfo
	catalog   Catalog
	states    StateReader
	logger    *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(lifecycle Lifecycle, runner CheckRunner, engine EngineInfo, cat Catalog, states StateReader, log *logger.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		checks:    runner,
		engine:    engine,
		catalog:   cat,
		states:    states,
		logger:    log.WithComponent("api"),
	}
}

// Health is a liveness probe
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "examlab"})
}

// DockerStatus reports engine availability. It always answers 200.
// GET /api/docker/status
func (h *Handler) DockerStatus(c *gin.Context) {
	version, err := h.engine.ServerVersion(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, DockerStatusResponse{Available: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, DockerStatusResponse{Available: true, Version: version})
}

// ListTasks returns every task with its state
// GET /api/tasks
func (h *Handler) ListTasks(c *gin.Context) {
	descriptors := h.catalog.List()
	out := make([]TaskResponse, 0, len(descriptors))
	for _, d := range descriptors {
		resp := TaskResponse{
			ID:           d.ID,
			Node:         d.Node,
			Title:        d.Title,
			Instructions: d.Instructions,
			Status:       state.StatusIdle,
		}
		if st, ok := h.states.Get(d.ID); ok {
			resp.Status = st.Status
			resp.Error = st.Error
			resp.LastCheck = st.LastCheck
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// StartTask ensures the task's environment is running
// POST /api/task/:id/start
func (h *Handler) StartTask(c *gin.Context) {
	h.lifecycleOp(c, "start", h.lifecycle.Ensure, state.StatusRunning)
}

// StopTask stops the task's environment
// POST /api/task/:id/stop
func (h *Handler) StopTask(c *gin.Context) {
	h.lifecycleOp(c, "stop", h.lifecycle.Stop, state.StatusStopped)
}

// ResetTask recreates the task's environment from the base image
// POST /api/task/:id/reset
func (h *Handler) ResetTask(c *gin.Context) {
	h.lifecycleOp(c, "reset", h.lifecycle.Reset, state.StatusRunning)
}

func (h *Handler) lifecycleOp(c *gin.Context, op string, fn func(context.Context, int) error, next state.Status) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	// A client hanging up must not abandon a half-created container.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), constants.LifecycleTimeout)
	defer cancel()

	if err := fn(ctx, taskID); err != nil {
		h.logger.Error("task "+op+" failed", zap.Int("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, LifecycleResponse{OK: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, LifecycleResponse{OK: true, Status: next})
}

// CheckTask runs the verification routine. Infrastructure failures come back as an
// ERROR result with status 200.
// POST /api/task/:id/check
func (h *Handler) CheckTask(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), constants.CheckRunTimeout)
	defer cancel()
	c.JSON(http.StatusOK, h.checks.Run(ctx, taskID))
}

// GetEnvironment returns the live engine view of the task's instance
// GET /api/task/:id/environment
func (h *Handler) GetEnvironment(c *gin.Context) {
	taskID, ok := h.taskID(c)
	if !ok {
		return
	}
	env, err := h.lifecycle.Describe(c.Request.Context(), taskID)
	if err != nil {
		h.logger.Error("describe environment failed", zap.Int("task_id", taskID), zap.Error(err))
		appErr := errors.Engine("failed to inspect environment", err)
		c.JSON(appErr.HTTPStatus, gin.H{"code": appErr.Code, "message": appErr.Message, "error": errors.Detail(appErr)})
		return
	}
	c.JSON(http.StatusOK, env)
}

// taskID parses :id and checks it against the catalog, writing the error response itself.
func (h *Handler) taskID(c *gin.Context) (int, bool) {
	raw := c.Param("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		appErr := errors.BadRequest("invalid task id: " + raw)
		c.JSON(appErr.HTTPStatus, appErr)
		return 0, false
	}
	if _, ok := h.catalog.Get(id); !ok {
		appErr := errors.NotFound("task", raw)
		c.JSON(appErr.HTTPStatus, appErr)
		return 0, false
	}
	return id, true
}
