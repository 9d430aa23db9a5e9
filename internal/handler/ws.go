package handler

import (
	"net/http"
	"time"

	"skkn-server/internal/generation"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents relays the session events to a websocket client as JSON
// messages. The first message is the current state.
func (h *SessionHandler) streamEvents(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("sessionID", s.ID().String()), zap.Error(err))
		return
	}

	events, unsubscribe := s.Subscribe()
	log := h.logger.With(zap.String("sessionID", s.ID().String()))
	log.Info("WebSocket client connected")

	done := make(chan struct{})
	go readPump(conn, done, log)
	writePump(conn, s, events, done, log)

	unsubscribe()
	_ = conn.Close()
	log.Info("WebSocket client disconnected")
}

// readPump discards client messages and closes done when the connection
// ends.
func readPump(conn *websocket.Conn, done chan<- struct{}, log *zap.Logger) {
	defer close(done)
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, s *generation.Session, events <-chan generation.Event, done <-chan struct{}, log *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	view := s.View()
	if err := writeEvent(conn, generation.Event{Type: generation.EventState, View: &view}); err != nil {
		log.Debug("WebSocket write failed", zap.Error(err))
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := writeEvent(conn, event); err != nil {
				log.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event generation.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(event)
}
