package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/kandev/examlab/internal/common/logger"
	ws "github.com/kandev/examlab/pkg/websocket"
)

// Gateway bundles the hub, dispatcher and HTTP handler.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
}

// NewGateway creates a gateway with the health action registered. Terminal actions
// are added with RegisterTerminalHandlers once the streamer exists.
func NewGateway(log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	RegisterHealthHandler(dispatcher)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    NewHandler(hub, log),
	}
}

// SetupRoutes adds the /ws route.
func (g *Gateway) SetupRoutes(router gin.IRoutes) {
	router.GET("/ws", g.Handler.HandleConnection)
}
