package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
	"github.com/burakerenkisapro1122/bchat/internal/session"
)

// SessionWebSocketHandler streams a session's notifications (message
// appends, unread changes, roster changes) to connected clients.
type SessionWebSocketHandler struct {
	hub      *Hub
	sessions *session.Manager
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(hub *Hub, sessions *session.Manager) *SessionWebSocketHandler {
	return &SessionWebSocketHandler{hub: hub, sessions: sessions}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and attaches it to the session's listener
// registry. The read loop only watches for the close.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("bchat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}

	sess, err := h.sessions.Validate(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      sess.User.ID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(token, conn, info)

	listenerID := sess.Subscribe(func(note session.Notification) {
		h.hub.Send(token, conn, note)
	})

	observability.IncWSActive("session")
	observability.IncWSEvent("session", "ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload:   lifecyclePayload(info, "ws_connect", 0, ""),
	}, observability.BuildHeaders(requestID, traceID))

	// Keep the connection alive and clean up on close.
	go func() {
		var closeReason string
		defer func() {
			sess.Unsubscribe(listenerID)
			h.hub.RemoveClient(token, conn)
			observability.DecWSActive("session")
			observability.IncWSEvent("session", "ws_disconnect")
			_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload:   lifecyclePayload(info, "ws_disconnect", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
			}, observability.BuildHeaders(requestID, traceID))
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("session", "ws_error")
					_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload:   lifecyclePayload(info, "ws_error", time.Since(info.ConnectedAt).Milliseconds(), closeReason),
					}, observability.BuildHeaders(requestID, traceID))
				}
				return
			}
		}
	}()
}

func lifecyclePayload(info ConnInfo, event string, durationMS int64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        "session",
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMS,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
