package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/opus-nx/orchestrator/pkg/bus"
)

const (
	heartbeatInterval = 15 * time.Second
	idleTimeout       = 300 * time.Second
	wsWriteTimeout    = 5 * time.Second

	closeCodeUnauthorized = 4001
	closeCodeIdleTimeout  = 4002
	closeCodeInternalErr  = 4003
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHandler streams bus events for one session to a WebSocket client
// (SPEC_FULL.md §4.5/§6.2). Token validation happens before the upgrade is
// accepted: over plain HTTP there is no websocket close-code concept yet,
// so an invalid token is rejected with a 401 and the upgrade never occurs,
// rather than upgrading only to immediately send a close frame.
func (s *Server) wsHandler(c *gin.Context) {
	if !s.validWSToken(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": closeCodeUnauthorized})
		return
	}

	sessionID := c.Param("session_id")
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(sessionID)
	defer s.bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disconnected := make(chan struct{})
	go s.wsDrainLoop(conn, disconnected)
	go s.wsHeartbeatLoop(ctx, conn, sessionID)

	s.wsDeliverLoop(ctx, conn, sub, disconnected)
}

// wsDeliverLoop forwards bus events to the socket until the client
// disconnects, the session goes idle for idleTimeout, or a write fails.
func (s *Server) wsDeliverLoop(ctx context.Context, conn *websocket.Conn, sub *bus.Subscription, disconnected <-chan struct{}) {
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-disconnected:
			return
		case <-ctx.Done():
			return
		case <-idle.C:
			s.wsClose(conn, closeCodeIdleTimeout, "idle_timeout", true)
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)

			if err := s.wsWriteJSON(conn, event); err != nil {
				s.log.Warn("websocket event delivery failed", "error", err)
				s.wsClose(conn, closeCodeInternalErr, "delivery_error", false)
				return
			}
		}
	}
}

// wsHeartbeatLoop sends a ping event every heartbeatInterval until ctx is
// cancelled (connection closing for any other reason).
func (s *Server) wsHeartbeatLoop(ctx context.Context, conn *websocket.Conn, sessionID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.wsWriteJSON(conn, bus.NewPing(sessionID)); err != nil {
				return
			}
		}
	}
}

// wsDrainLoop reads and discards client frames so pong control frames
// (answered automatically by gorilla/websocket) don't accumulate unread,
// and reports the connection's closure to the deliver loop.
func (s *Server) wsDrainLoop(conn *websocket.Conn, disconnected chan<- struct{}) {
	defer close(disconnected)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// wsClose sends a structured error event (if sendEvent is true) followed by
// a close control frame carrying code.
func (s *Server) wsClose(conn *websocket.Conn, code int, reason string, sendEvent bool) {
	if sendEvent {
		_ = s.wsWriteJSON(conn, gin.H{"event": "error", "code": code, "reason": reason})
	}
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
