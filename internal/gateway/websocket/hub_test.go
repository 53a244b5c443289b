package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/terminal"
	ws "github.com/kandev/examlab/pkg/websocket"
)

// newPumplessClient registers a client whose send queue is drained by the test.
func newPumplessClient(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()
	client := NewClient(id, nil, hub, logger.NewNop())
	hub.Register(client)
	return client
}

func TestDeliver_BackpressureKeepsEveryEventInOrder(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), logger.NewNop())
	client := newPumplessClient(t, hub, "owner")

	const outputs = sendBufferSize + 44
	go func() {
		for i := 0; i < outputs; i++ {
			hub.Deliver("owner", terminal.Event{Type: terminal.EventOutput, TaskID: 1, Data: string(rune('a' + i%26))})
		}
		hub.Deliver("owner", terminal.Event{Type: terminal.EventExit, TaskID: 1, Code: 0})
	}()

	// Let the producer fill the queue before draining starts.
	require.Eventually(t, func() bool { return len(client.send) == sendBufferSize }, 3*time.Second, 5*time.Millisecond)

	for i := 0; i <= outputs; i++ {
		var data []byte
		select {
		case data = <-client.send:
		case <-time.After(3 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}

		var msg ws.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if i == outputs {
			assert.Equal(t, ws.ActionTerminalExit, msg.Action)
			continue
		}
		require.Equal(t, ws.ActionTerminalOutput, msg.Action, "event %d", i)
		var payload outputPayload
		require.NoError(t, msg.ParsePayload(&payload))
		assert.Equal(t, string(rune('a'+i%26)), payload.Data, "event %d out of order", i)
	}
}

func TestDeliver_UnblocksWhenClientRemoved(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), logger.NewNop())
	client := newPumplessClient(t, hub, "gone")

	for i := 0; i < sendBufferSize; i++ {
		client.send <- []byte("{}")
	}

	returned := make(chan struct{})
	go func() {
		hub.Deliver("gone", terminal.Event{Type: terminal.EventExit, TaskID: 2})
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Deliver returned while the client was still connected")
	case <-time.After(50 * time.Millisecond):
	}

	hub.removeClient(client)

	select {
	case <-returned:
	case <-time.After(3 * time.Second):
		t.Fatal("Deliver still blocked after the client was removed")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestSendTo_DropsWhenFull(t *testing.T) {
	hub := NewHub(ws.NewDispatcher(), logger.NewNop())
	client := newPumplessClient(t, hub, "busy")
	for i := 0; i < sendBufferSize; i++ {
		client.send <- []byte("{}")
	}

	msg, err := ws.NewResponse("r1", ws.ActionHealthCheck, nil)
	require.NoError(t, err)
	assert.False(t, hub.SendTo("busy", msg))
	assert.False(t, hub.SendTo("nobody", msg))
}
