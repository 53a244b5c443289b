package websocket

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/terminal"
	ws "github.com/kandev/examlab/pkg/websocket"
)

// TerminalService is the session surface the gateway drives.
type TerminalService interface {
	Connect(ctx context.Context, taskID int, clientID string) error
	Send(taskID int, data []byte) error
	Resize(ctx context.Context, taskID int, cols, rows uint) error
	Close(taskID int)
}

// TaskChecker reports whether a task id is known.
type TaskChecker func(taskID int) bool

// TerminalRequest is the payload of terminal.* requests.
type TerminalRequest struct {
	TaskID int    `json:"taskId"`
	Data   string `json:"data,omitempty"`
	Cols   uint   `json:"cols,omitempty"`
	Rows   uint   `json:"rows,omitempty"`
}

type outputPayload struct {
	TaskID int    `json:"taskId"`
	Data   string `json:"data"`
}

type errorPayload struct {
	TaskID  int    `json:"taskId"`
	Message string `json:"message"`
}

type exitPayload struct {
	TaskID int `json:"taskId"`
	Code   int `json:"code"`
}

func terminalNotification(evt terminal.Event) (string, any) {
	switch evt.Type {
	case terminal.EventOutput:
		return ws.ActionTerminalOutput, outputPayload{TaskID: evt.TaskID, Data: evt.Data}
	case terminal.EventError:
		return ws.ActionTerminalError, errorPayload{TaskID: evt.TaskID, Message: evt.Message}
	default:
		return ws.ActionTerminalExit, exitPayload{TaskID: evt.TaskID, Code: evt.Code}
	}
}

type terminalHandlers struct {
	terminals TerminalService
	known     TaskChecker
	logger    *logger.Logger
}

// RegisterTerminalHandlers wires the terminal.* actions to svc.
func RegisterTerminalHandlers(d *ws.Dispatcher, svc TerminalService, known TaskChecker, log *logger.Logger) {
	h := &terminalHandlers{
		terminals: svc,
		known:     known,
		logger:    log.WithComponent("ws_terminal"),
	}
	d.RegisterFunc(ws.ActionTerminalConnect, h.connect)
	d.RegisterFunc(ws.ActionTerminalInput, h.input)
	d.RegisterFunc(ws.ActionTerminalResize, h.resize)
	d.RegisterFunc(ws.ActionTerminalClose, h.close)
}

func (h *terminalHandlers) parse(msg *ws.Message) (*TerminalRequest, *ws.Message) {
	var req TerminalRequest
	if err := msg.ParsePayload(&req); err != nil {
		resp, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return nil, resp
	}
	if req.TaskID <= 0 {
		resp, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "taskId is required", nil)
		return nil, resp
	}
	if h.known != nil && !h.known(req.TaskID) {
		resp, _ := ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNotFound,
			fmt.Sprintf("task %d not found", req.TaskID), nil)
		return nil, resp
	}
	return &req, nil
}

func (h *terminalHandlers) connect(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp := h.parse(msg)
	if errResp != nil {
		return errResp, nil
	}
	clientID := ws.ClientID(ctx)
	if err := h.terminals.Connect(ctx, req.TaskID, clientID); err != nil {
		code := ws.ErrorCodeInternalError
		if errors.Is(err, terminal.ErrNotRunning) {
			code = ws.ErrorCodeNotRunning
		}
		h.logger.Warn("terminal connect failed",
			zap.Int("task_id", req.TaskID),
			zap.String("client_id", clientID),
			zap.Error(err))
		return ws.NewError(msg.ID, msg.Action, code, err.Error(), map[string]any{"taskId": req.TaskID})
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"taskId": req.TaskID, "connected": true})
}

// input and resize are fire-and-forget: they only answer malformed requests.
func (h *terminalHandlers) input(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp := h.parse(msg)
	if errResp != nil {
		return errResp, nil
	}
	h.tolerate(h.terminals.Send(req.TaskID, []byte(req.Data)))
	return nil, nil
}

func (h *terminalHandlers) resize(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp := h.parse(msg)
	if errResp != nil {
		return errResp, nil
	}
	h.tolerate(h.terminals.Resize(ctx, req.TaskID, req.Cols, req.Rows))
	return nil, nil
}

func (h *terminalHandlers) close(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	req, errResp := h.parse(msg)
	if errResp != nil {
		return errResp, nil
	}
	h.terminals.Close(req.TaskID)
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"taskId": req.TaskID, "closed": true})
}

func (h *terminalHandlers) tolerate(err error) {
	if err == nil {
		return
	}
	if terminal.IsIgnorable(err) {
		h.logger.Debug("ignored terminal error", zap.Error(err))
		return
	}
	h.logger.Warn("terminal operation failed", zap.Error(err))
}
