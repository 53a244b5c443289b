package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/examlab/internal/checks"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/environment"
	"github.com/kandev/examlab/internal/task/catalog"
	"github.com/kandev/examlab/internal/task/state"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockLifecycle struct {
	ensureFn   func(ctx context.Context, taskID int) error
	stopFn     func(ctx context.Context, taskID int) error
	resetFn    func(ctx context.Context, taskID int) error
	describeFn func(ctx context.Context, taskID int) (*environment.Environment, error)
	calls      []string
}

func (m *mockLifecycle) Ensure(ctx context.Context, taskID int) error {
	m.calls = append(m.calls, "ensure")
	if m.ensureFn != nil {
		return m.ensureFn(ctx, taskID)
	}
	return nil
}

func (m *mockLifecycle) Stop(ctx context.Context, taskID int) error {
	m.calls = append(m.calls, "stop")
	if m.stopFn != nil {
		return m.stopFn(ctx, taskID)
	}
	return nil
}

func (m *mockLifecycle) Reset(ctx context.Context, taskID int) error {
	m.calls = append(m.calls, "reset")
	if m.resetFn != nil {
		return m.resetFn(ctx, taskID)
	}
	return nil
}

func (m *mockLifecycle) Describe(ctx context.Context, taskID int) (*environment.Environment, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, taskID)
	}
	return &environment.Environment{TaskID: taskID, Status: environment.StatusAbsent}, nil
}

type mockRunner struct {
	result checks.Result
	ran    []int
}

func (m *mockRunner) Run(_ context.Context, taskID int) checks.Result {
	m.ran = append(m.ran, taskID)
	return m.result
}

type mockEngine struct {
	version string
	err     error
}

func (m *mockEngine) ServerVersion(context.Context) (string, error) { return m.version, m.err }

type fixture struct {
	router    *gin.Engine
	lifecycle *mockLifecycle
	runner    *mockRunner
	engine    *mockEngine
	store     *state.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Descriptor{
		{ID: 1, Node: "node1", Title: "Hostname", Instructions: "Set the hostname."},
		{ID: 4, Node: "node1", Title: "Users", Instructions: "Create users."},
	})
	require.NoError(t, err)

	f := &fixture{
		lifecycle: &mockLifecycle{},
		runner:    &mockRunner{},
		engine:    &mockEngine{version: "28.5.2"},
		store:     state.NewStore(cat.IDs()),
	}
	f.router = gin.New()
	SetupRoutes(f.router, NewHandler(f.lifecycle, f.runner, f.engine, cat, f.store, logger.NewNop()))
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDockerStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/docker/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DockerStatusResponse{Available: true, Version: "28.5.2"}, decode[DockerStatusResponse](t, w))

	f.engine.err = errors.New("Cannot connect to the Docker daemon")
	w = f.do(t, http.MethodGet, "/api/docker/status")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DockerStatusResponse](t, w)
	assert.False(t, resp.Available)
	assert.Equal(t, "Cannot connect to the Docker daemon", resp.Error)
}

func TestListTasks_MergesState(t *testing.T) {
	f := newFixture(t)
	f.store.SetStatus(4, state.StatusRunning, "")
	f.store.SetLastCheck(4, checks.Result{Status: checks.StatusFail, Summary: "0/5 checks passed.", Timestamp: time.Now().UTC()})

	w := f.do(t, http.MethodGet, "/api/tasks")
	require.Equal(t, http.StatusOK, w.Code)

	tasks := decode[[]TaskResponse](t, w)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].ID)
	assert.Equal(t, state.StatusIdle, tasks[0].Status)
	assert.Nil(t, tasks[0].LastCheck)

	assert.Equal(t, 4, tasks[1].ID)
	assert.Equal(t, "Users", tasks[1].Title)
	assert.Equal(t, state.StatusRunning, tasks[1].Status)
	require.NotNil(t, tasks[1].LastCheck)
	assert.Equal(t, "0/5 checks passed.", tasks[1].LastCheck.Summary)
}

func TestLifecycleEndpoints(t *testing.T) {
	tests := []struct {
		path   string
		call   string
		status state.Status
	}{
		{"/api/task/1/start", "ensure", state.StatusRunning},
		{"/api/task/1/stop", "stop", state.StatusStopped},
		{"/api/task/1/reset", "reset", state.StatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, tt.path)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, LifecycleResponse{OK: true, Status: tt.status}, decode[LifecycleResponse](t, w))
			assert.Equal(t, []string{tt.call}, f.lifecycle.calls)
		})
	}
}

func TestStart_EngineFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.ensureFn = func(context.Context, int) error {
		return errors.New("failed to pull almalinux:9: permission denied")
	}

	w := f.do(t, http.MethodPost, "/api/task/1/start")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decode[LifecycleResponse](t, w)
	assert.False(t, resp.OK)
	assert.Equal(t, "failed to pull almalinux:9: permission denied", resp.Error)
}

func TestTaskID_Validation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/task/abc/start")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/task/0/check")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/task/99/start")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.lifecycle.calls)
}

func TestCheckTask_AlwaysOK(t *testing.T) {
	f := newFixture(t)
	f.runner.result = checks.Result{
		Status:  checks.StatusError,
		Summary: "Container not available: rhcsa-task-4",
		Details: []checks.Detail{},
	}

	w := f.do(t, http.MethodPost, "/api/task/4/check")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[checks.Result](t, w)
	assert.Equal(t, checks.StatusError, res.Status)
	assert.NotNil(t, res.Details)
	assert.Equal(t, []int{4}, f.runner.ran)
}

func TestGetEnvironment(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/task/1/environment")
	require.Equal(t, http.StatusOK, w.Code)
	env := decode[environment.Environment](t, w)
	assert.Equal(t, environment.StatusAbsent, env.Status)

	f.lifecycle.describeFn = func(context.Context, int) (*environment.Environment, error) {
		return nil, errors.New("engine unreachable")
	}
	w = f.do(t, http.MethodGet, "/api/task/1/environment")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "engine unreachable")
}
