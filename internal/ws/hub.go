package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
)

// Hub tracks the websocket connections attached to each live session,
// keyed by session token. Notification writes come from each session's
// single event goroutine, so writes to one connection are never concurrent.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*websocket.Conn]bool
	connInfo map[string]map[*websocket.Conn]ConnInfo
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]map[*websocket.Conn]bool),
		connInfo: make(map[string]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a connection under a session token.
func (h *Hub) AddClient(token string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[token]; !ok {
		h.sessions[token] = make(map[*websocket.Conn]bool)
	}
	h.sessions[token][conn] = true
	if _, ok := h.connInfo[token]; !ok {
		h.connInfo[token] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[token][conn] = info
}

// RemoveClient removes a connection.
func (h *Hub) RemoveClient(token string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[token]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, token)
		}
	}
	if infos, ok := h.connInfo[token]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, token)
		}
	}
}

// Send writes one notification payload to one connection. A failed write
// closes and removes the connection.
func (h *Hub) Send(token string, conn *websocket.Conn, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Msg("websocket write error")
		conn.Close()
		h.publishWSError(token, conn, err)
		h.RemoveClient(token, conn)
	}
}

func (h *Hub) publishWSError(token string, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(token, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "session",
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("session", "ws_error")
}

func (h *Hub) getConnInfo(token string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if infos, ok := h.connInfo[token]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
