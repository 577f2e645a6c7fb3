package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubTracksClientsPerToken(t *testing.T) {
	hub := NewHub()
	connA := &websocket.Conn{}
	connB := &websocket.Conn{}

	hub.AddClient("tok", connA, ConnInfo{ConnID: "a", UserID: 1, ConnectedAt: time.Now()})
	hub.AddClient("tok", connB, ConnInfo{ConnID: "b", UserID: 1, ConnectedAt: time.Now()})

	info, ok := hub.getConnInfo("tok", connA)
	require.True(t, ok)
	assert.Equal(t, "a", info.ConnID)

	info, ok = hub.getConnInfo("tok", connB)
	require.True(t, ok)
	assert.Equal(t, "b", info.ConnID)

	_, ok = hub.getConnInfo("other", connA)
	assert.False(t, ok)
}

func TestHubRemoveClient(t *testing.T) {
	hub := NewHub()
	connA := &websocket.Conn{}
	connB := &websocket.Conn{}

	hub.AddClient("tok", connA, ConnInfo{ConnID: "a"})
	hub.AddClient("tok", connB, ConnInfo{ConnID: "b"})

	hub.RemoveClient("tok", connA)
	_, ok := hub.getConnInfo("tok", connA)
	assert.False(t, ok)
	_, ok = hub.getConnInfo("tok", connB)
	assert.True(t, ok)

	// Removing the last connection drops the token entry entirely.
	hub.RemoveClient("tok", connB)
	hub.mu.RLock()
	_, sessionsLeft := hub.sessions["tok"]
	_, infosLeft := hub.connInfo["tok"]
	hub.mu.RUnlock()
	assert.False(t, sessionsLeft)
	assert.False(t, infosLeft)
}

func TestHubRemoveUnknownClientIsNoOp(t *testing.T) {
	hub := NewHub()
	hub.RemoveClient("tok", &websocket.Conn{})
}
