package server

import (
	"net/http"

	"github.com/foliolab/pulse/internal/presence"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var trackingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The site is served from a different origin than the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

type trackingHello struct {
	Type      string `json:"type"`
	VisitorID string `json:"visitor_id"`
	SessionID string `json:"session_id,omitempty"`
	Tracked   bool   `json:"tracked"`
}

type trackingMessage struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
	Page    string `json:"page,omitempty"`
}

// handleTrackingSocket registers the connecting browser tab as a presence
// session for the lifetime of the socket. Closing the socket, cleanly or
// not, deregisters the record: the connection itself is the disconnect
// hook.
func (h *httpHandler) handleTrackingSocket(c *gin.Context) {
	conn, err := trackingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("tracking upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	session, err := h.tracker.Start(c.Request.Context(), presence.StartRequest{
		VisitorID: c.Query("visitor_id"),
		RemoteIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Page:      c.Query("page"),
	})
	if err != nil {
		h.logger.Warn("tracking start failed", zap.Error(err))
		return
	}
	defer session.Stop()

	hello := trackingHello{
		Type:      "hello",
		VisitorID: session.VisitorID(),
		SessionID: session.SessionID(),
		Tracked:   session.Tracked(),
	}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	for {
		var message trackingMessage
		if err := conn.ReadJSON(&message); err != nil {
			return
		}
		switch message.Type {
		case "heartbeat":
			session.Heartbeat()
		case "visibility":
			if message.Visible != nil {
				session.SetVisible(*message.Visible)
			}
		case "navigate":
			session.Navigate(message.Page)
		}
	}
}
