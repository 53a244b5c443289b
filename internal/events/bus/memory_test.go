package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/examlab/internal/common/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) handle(_ context.Context, e *Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"task.lifecycle.1", "task.lifecycle.1", true},
		{"task.lifecycle.1", "task.lifecycle.10", false},
		{"task.*.1", "task.check.1", true},
		{"task.*.1", "task.check.sub.1", false},
		{"task.>", "task.check.1", true},
		{"task.>", "task", false},
		{"other.>", "task.check.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(tt.subject, tt.pattern, compilePattern(tt.pattern)))
		})
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.NewNop())
	defer b.Close()

	all, one := &recorder{}, &recorder{}
	_, err := b.Subscribe("task.>", all.handle)
	require.NoError(t, err)
	sub, err := b.Subscribe("task.check.4", one.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "task.check.4", NewEvent("check.completed", "checks", nil)))
	require.NoError(t, b.Publish(context.Background(), "task.lifecycle.4", NewEvent("environment.started", "environment", nil)))

	assert.Eventually(t, func() bool { return all.count() == 2 && one.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Publish(context.Background(), "task.check.4", NewEvent("check.completed", "checks", nil)))
	assert.Eventually(t, func() bool { return all.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, one.count())
}

func TestMemoryEventBus_Closed(t *testing.T) {
	b := NewMemoryEventBus(logger.NewNop())
	assert.True(t, b.IsConnected())
	b.Close()
	assert.False(t, b.IsConnected())

	assert.Error(t, b.Publish(context.Background(), "x", NewEvent("t", "s", nil)))
	_, err := b.Subscribe("x", func(context.Context, *Event) error { return nil })
	assert.Error(t, err)
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("task.updated", "environment", map[string]any{"taskId": 1})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "task.updated", e.Type)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
}
