package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/events"
	"github.com/kandev/examlab/internal/events/bus"
	"github.com/kandev/examlab/internal/task/state"
	ws "github.com/kandev/examlab/pkg/websocket"
)

// StateReader reads the current state of a task.
type StateReader interface {
	Get(taskID int) (state.TaskState, bool)
}

// TaskUpdate is the payload of task.updated.
type TaskUpdate struct {
	TaskID int              `json:"taskId"`
	Event  string           `json:"event"`
	State  *state.TaskState `json:"state,omitempty"`
}

// TaskEventBroadcaster relays lifecycle and check events to every client.
type TaskEventBroadcaster struct {
	hub          *Hub
	states       StateReader
	subscription bus.Subscription
	logger       *logger.Logger
}

// RegisterTaskNotifications subscribes to all task subjects until ctx is done.
func RegisterTaskNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, states StateReader, log *logger.Logger) *TaskEventBroadcaster {
	b := &TaskEventBroadcaster{
		hub:    hub,
		states: states,
		logger: log.WithComponent("ws_task_broadcaster"),
	}
	if eventBus == nil {
		return b
	}

	sub, err := eventBus.Subscribe(events.TaskSubjects, b.handle)
	if err != nil {
		b.logger.Error("failed to subscribe to task events", zap.Error(err))
		return b
	}
	b.subscription = sub

	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return b
}

// Close unsubscribes from the bus.
func (b *TaskEventBroadcaster) Close() {
	if b.subscription != nil && b.subscription.IsValid() {
		_ = b.subscription.Unsubscribe()
	}
}

func (b *TaskEventBroadcaster) handle(_ context.Context, event *bus.Event) error {
	taskID, ok := eventTaskID(event)
	if !ok {
		b.logger.Debug("task event without task id", zap.String("type", event.Type))
		return nil
	}

	update := TaskUpdate{TaskID: taskID, Event: event.Type}
	if b.states != nil {
		if st, found := b.states.Get(taskID); found {
			update.State = &st
		}
	}

	msg, err := ws.NewNotification(ws.ActionTaskUpdated, update)
	if err != nil {
		b.logger.Error("failed to build task notification", zap.Error(err))
		return nil
	}
	b.hub.Broadcast(msg)
	return nil
}

// eventTaskID reads data.taskId, which is a float64 once it has crossed NATS as JSON.
func eventTaskID(event *bus.Event) (int, bool) {
	switch v := event.Data["taskId"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
