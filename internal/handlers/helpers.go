package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/burakerenkisapro1122/bchat/internal/middleware"
	"github.com/burakerenkisapro1122/bchat/internal/models"
	"github.com/burakerenkisapro1122/bchat/internal/session"
)

const requestIDContextKey = "request_id"

// conversationRef is the wire form of a conversation identifier.
type conversationRef struct {
	Kind     string `json:"kind" binding:"required,oneof=direct group"`
	TargetID int    `json:"target_id" binding:"required"`
}

func (r conversationRef) conversation() models.Conversation {
	if r.Kind == string(models.ConversationGroup) {
		return models.GroupConversation(r.TargetID)
	}
	return models.DirectConversation(r.TargetID)
}

func sessionFromContext(c *gin.Context) (*session.Session, bool) {
	val, ok := c.Get(middleware.SessionKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return nil, false
	}
	sess, ok := val.(*session.Session)
	if !ok || sess == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return nil, false
	}
	return sess, true
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	return nil
}
