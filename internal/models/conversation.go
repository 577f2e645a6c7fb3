package models

import "strconv"

// ConversationKind distinguishes direct user-pair conversations from groups.
type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

// Conversation identifies a conversation from one observer's point of view.
// It is derived, never persisted: for a direct exchange Target is the *other*
// participant's user id (both sides compute the same value relative to each
// other), for a group it is the group id. The kind keeps user and group id
// spaces from colliding.
type Conversation struct {
	Kind   ConversationKind `json:"kind"`
	Target int              `json:"target_id"`
}

// DirectConversation returns the identifier for a direct exchange with the
// given counterparty.
func DirectConversation(otherUserID int) Conversation {
	return Conversation{Kind: ConversationDirect, Target: otherUserID}
}

// GroupConversation returns the identifier for a group conversation.
func GroupConversation(groupID int) Conversation {
	return Conversation{Kind: ConversationGroup, Target: groupID}
}

// IsZero reports whether the identifier is unset.
func (c Conversation) IsZero() bool {
	return c.Kind == "" && c.Target == 0
}

// Key is the stable string form used as a JSON map key in the read model:
// "u:<user id>" for direct conversations, "g:<group id>" for groups.
func (c Conversation) Key() string {
	if c.Kind == ConversationGroup {
		return "g:" + strconv.Itoa(c.Target)
	}
	return "u:" + strconv.Itoa(c.Target)
}
