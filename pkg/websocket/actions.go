package websocket

// Request actions
const (
	ActionHealthCheck = "health.check"

	ActionTerminalConnect = "terminal.connect"
	ActionTerminalInput   = "terminal.input"
	ActionTerminalResize  = "terminal.resize"
	ActionTerminalClose   = "terminal.close"
)

// Notification actions pushed by the server
const (
	ActionTerminalOutput = "terminal.output"
	ActionTerminalError  = "terminal.error"
	ActionTerminalExit   = "terminal.exit"

	ActionTaskUpdated = "task.updated"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
	ErrorCodeNotRunning    = "NOT_RUNNING"
)
