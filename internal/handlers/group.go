package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/burakerenkisapro1122/bchat/internal/repositories"
	"github.com/burakerenkisapro1122/bchat/internal/telemetry"
)

// GroupHandler manages group creation and membership.
type GroupHandler struct {
	audit *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{audit: audit}
}

// CreateGroup handles POST /groups. The creator's membership is recorded
// atomically with the group.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := sess.CreateGroup(c.Request.Context(), req.Name)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "group created")
	c.JSON(http.StatusCreated, gin.H{"group": group})
}

// AddMember handles POST /groups/:group_id/members. Membership is additive
// only; repeated adds are a no-op.
func (h *GroupHandler) AddMember(c *gin.Context) {
	sess, ok := sessionFromContext(c)
	if !ok {
		return
	}

	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := sess.AddGroupMember(c.Request.Context(), groupID, req.UserID); err != nil {
		switch {
		case errors.Is(err, repositories.ErrGroupNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		case errors.Is(err, repositories.ErrUserNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			h.emitAudit(c, "ERROR", "internal error")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		}
		return
	}

	h.emitAudit(c, "INFO", "group member added")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
