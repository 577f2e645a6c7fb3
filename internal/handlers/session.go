package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/burakerenkisapro1122/bchat/internal/session"
	"github.com/burakerenkisapro1122/bchat/internal/telemetry"
)

// SessionHandler exposes the session core over REST: login/logout, the
// conversation roster, activation, sending, and the read-model snapshot.
type SessionHandler struct {
	sessions *session.Manager
	audit    *telemetry.AuditEmitter
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions *session.Manager, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: audit}
}

// Login handles POST /login: username lookup-or-create plus session open.
func (h *SessionHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.Login(c.Request.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyUsername):
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty username"})
		case errors.Is(err, session.ErrIdentityConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "username conflict"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}

	c.Set("userID", sess.User.ID)
	h.emitAudit(c, "INFO", "session login")
	c.JSON(http.StatusOK, gin.H{"token": sess.Token, "user": sess.User})
}

// Logout handles POST /logout.
func (h *SessionHandler) Logout(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	if err := h.sessions.Logout(sess.Token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	h.emitAudit(c, "INFO", "session logout")
	c.Status(http.StatusNoContent)
}

// ListConversations handles GET /conversations: every other user plus every
// group.
func (h *SessionHandler) ListConversations(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	users, groups, err := sess.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "groups": groups})
}

// ActivateConversation handles PUT /session/conversation: switches the
// active view, returning the freshly loaded read model.
func (h *SessionHandler) ActivateConversation(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	var ref conversationRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := sess.ActivateConversation(c.Request.Context(), ref.conversation()); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidConversation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation"})
		case errors.Is(err, session.ErrSessionClosed):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session closed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		}
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

// DeactivateConversation handles DELETE /session/conversation. Unread
// counts persist.
func (h *SessionHandler) DeactivateConversation(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	if err := sess.DeactivateConversation(); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session closed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SendMessage handles POST /messages. A message that is blank after
// trimming is a silent no-op.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Kind     string `json:"kind" binding:"required,oneof=direct group"`
		TargetID int    `json:"target_id" binding:"required"`
		Content  string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ref := conversationRef{Kind: req.Kind, TargetID: req.TargetID}
	msg, err := sess.SendMessage(c.Request.Context(), ref.conversation(), req.Content)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotGroupMember):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a group member"})
		case errors.Is(err, session.ErrInvalidConversation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// State handles GET /session/state: the read model the presentation layer
// renders.
func (h *SessionHandler) State(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.State())
}

func (h *SessionHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
