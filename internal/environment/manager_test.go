package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/examlab/internal/common/config"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/common/tasklock"
	"github.com/kandev/examlab/internal/engine/docker"
	"github.com/kandev/examlab/internal/events/bus"
	"github.com/kandev/examlab/internal/task/state"
)

// fakeEngine keeps containers in memory and logs every mutating call in order.
type fakeEngine struct {
	mu         sync.Mutex
	containers map[string]*docker.ContainerInfo
	images     map[string]bool
	calls      []string
	createErr  error
	journal    *journal
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func newFakeEngine(j *journal) *fakeEngine {
	return &fakeEngine{containers: map[string]*docker.ContainerInfo{}, images: map[string]bool{}, journal: j}
}

func (f *fakeEngine) log(call string) {
	f.calls = append(f.calls, call)
	f.journal.add(call)
}

func notFound(name string) error {
	return fmt.Errorf("failed to inspect container %s: %w", name, docker.ErrNotFound)
}

func (f *fakeEngine) InspectContainer(_ context.Context, ref string) (*docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[ref]
	if !ok {
		return nil, notFound(ref)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeEngine) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[ref], nil
}

func (f *fakeEngine) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log("pull " + ref)
	f.images[ref] = true
	return nil
}

func (f *fakeEngine) CreateContainer(_ context.Context, cfg docker.ContainerConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.log("create " + cfg.Name)
	f.containers[cfg.Name] = &docker.ContainerInfo{ID: "id-" + cfg.Name, Name: cfg.Name, Image: cfg.Image, State: "created"}
	return "id-" + cfg.Name, nil
}

func (f *fakeEngine) StartContainer(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[ref]
	if !ok {
		return notFound(ref)
	}
	f.log("start " + ref)
	c.Running, c.State = true, "running"
	return nil
}

func (f *fakeEngine) StopContainer(_ context.Context, ref string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[ref]
	if !ok {
		return notFound(ref)
	}
	f.log("stop " + ref)
	c.Running, c.State = false, "exited"
	return nil
}

func (f *fakeEngine) RemoveContainer(_ context.Context, ref string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[ref]; !ok {
		return notFound(ref)
	}
	f.log("remove " + ref)
	delete(f.containers, ref)
	return nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSessions struct{ journal *journal }

func (s *fakeSessions) Close(taskID int) { s.journal.add(fmt.Sprintf("close-session %d", taskID)) }

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

type fixture struct {
	engine  *fakeEngine
	store   *state.Store
	journal *journal
	bus     *bus.MemoryEventBus
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := &journal{}
	eng := newFakeEngine(j)
	store := state.NewStore([]int{1, 2, 3, 4, 5})
	eb := bus.NewMemoryEventBus(newTestLogger())
	t.Cleanup(eb.Close)
	cfg := config.EnvironmentConfig{Image: "almalinux:9", NamePrefix: "rhcsa-task-", PullMissing: true}
	mgr := NewManager(eng, &fakeSessions{journal: j}, store, eb, tasklock.New(), cfg, newTestLogger())
	return &fixture{engine: eng, store: store, journal: j, bus: eb, mgr: mgr}
}

func TestEnsure_CreatesPullsAndStarts(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.Ensure(context.Background(), 1))
	assert.Equal(t, []string{"pull almalinux:9", "create rhcsa-task-1", "start rhcsa-task-1"}, f.journal.list())

	st, err := f.mgr.Status(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, st)

	ts, _ := f.store.Get(1)
	assert.Equal(t, state.StatusRunning, ts.Status)
}

func TestEnsure_Idempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Ensure(context.Background(), 2))
	before := f.engine.callCount()

	require.NoError(t, f.mgr.Ensure(context.Background(), 2))
	assert.Equal(t, before, f.engine.callCount())
}

func TestEnsure_StartsStoppedInstance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Ensure(context.Background(), 3))
	require.NoError(t, f.mgr.Stop(context.Background(), 3))

	st, _ := f.mgr.Status(context.Background(), 3)
	assert.Equal(t, StatusStopped, st)

	require.NoError(t, f.mgr.Ensure(context.Background(), 3))
	entries := f.journal.list()
	assert.Equal(t, "start rhcsa-task-3", entries[len(entries)-1])
	assert.NotContains(t, entries[3:], "create rhcsa-task-3")
}

func TestEnsure_EngineErrorRecorded(t *testing.T) {
	f := newFixture(t)
	f.engine.createErr = errors.New("Error response from daemon: pull access denied")

	err := f.mgr.Ensure(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pull access denied")

	ts, _ := f.store.Get(1)
	assert.Equal(t, state.StatusError, ts.Status)
	assert.Contains(t, ts.Error, "pull access denied")
}

func TestStop_AbsentIsSuccess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Stop(context.Background(), 4))

	assert.Equal(t, []string{"close-session 4"}, f.journal.list())
	ts, _ := f.store.Get(4)
	assert.Equal(t, state.StatusStopped, ts.Status)
}

func TestReset_ClosesSessionBeforeRemoval(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Ensure(context.Background(), 5))
	f.journal.entries = nil

	require.NoError(t, f.mgr.Reset(context.Background(), 5))
	assert.Equal(t, []string{
		"close-session 5",
		"stop rhcsa-task-5",
		"remove rhcsa-task-5",
		"create rhcsa-task-5",
		"start rhcsa-task-5",
	}, f.journal.list())

	st, _ := f.mgr.Status(context.Background(), 5)
	assert.Equal(t, StatusRunning, st)
}

func TestReset_AbsentInstanceIsCreated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Reset(context.Background(), 1))
	assert.Contains(t, f.journal.list(), "create rhcsa-task-1")
}

func TestDescribe_Absent(t *testing.T) {
	f := newFixture(t)
	env, err := f.mgr.Describe(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, env.Status)
	assert.Equal(t, "rhcsa-task-2", env.Name)
}

func TestLifecycle_PublishesEvents(t *testing.T) {
	f := newFixture(t)
	got := make(chan *bus.Event, 4)
	_, err := f.bus.Subscribe("task.lifecycle.*", func(_ context.Context, e *bus.Event) error {
		got <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Ensure(context.Background(), 1))

	select {
	case e := <-got:
		assert.Equal(t, "environment.started", e.Type)
		assert.Equal(t, "running", e.Data["status"])
	case <-time.After(time.Second):
		t.Fatal("no lifecycle event")
	}
}

func TestLifecycle_SameTaskSerialized(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.mgr.Ensure(context.Background(), 1)
		}()
	}
	wg.Wait()

	creates := 0
	for _, e := range f.journal.list() {
		if e == "create rhcsa-task-1" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}
