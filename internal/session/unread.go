package session

import "github.com/burakerenkisapro1122/bchat/internal/models"

// unreadSeenWindow bounds the redelivery dedup window. The feed is
// at-least-once, so redeliveries cluster close to the original; a small
// window covers them without unbounded growth.
const unreadSeenWindow = 256

// UnreadTracker maintains one observing user's conversation -> unread count
// map. It is process-local session state, never persisted, and is not safe
// for concurrent use: all mutations run on the session's event goroutine.
type UnreadTracker struct {
	observerID int
	active     models.Conversation
	hasActive  bool
	counts     map[models.Conversation]int
	seen       map[int]struct{}
	seenOrder  []int
}

// NewUnreadTracker builds a tracker for the given observer with no active
// conversation.
func NewUnreadTracker(observerID int) *UnreadTracker {
	return &UnreadTracker{
		observerID: observerID,
		counts:     make(map[models.Conversation]int),
		seen:       make(map[int]struct{}),
	}
}

// OnMessageObserved accrues an unread count for an observed message. It
// reports whether any count changed. No-ops: irrelevant messages, redelivered
// messages already observed, messages authored by the observer, and messages
// for the currently active conversation (the open view counts as immediate
// delivery).
func (t *UnreadTracker) OnMessageObserved(msg models.Message) bool {
	cls := Classify(msg, t.observerID)
	if !cls.Relevant {
		return false
	}
	if t.observe(msg.ID) {
		return false
	}
	if msg.SenderID == t.observerID {
		return false
	}
	if t.hasActive && cls.Conversation == t.active {
		return false
	}
	t.counts[cls.Conversation]++
	return true
}

// observe records a message id, reporting whether it was already in the
// window. The outcome of the first delivery is final: a redelivery never
// accrues, even if the active conversation changed in between.
func (t *UnreadTracker) observe(id int) bool {
	if _, ok := t.seen[id]; ok {
		return true
	}
	t.seen[id] = struct{}{}
	t.seenOrder = append(t.seenOrder, id)
	if len(t.seenOrder) > unreadSeenWindow {
		delete(t.seen, t.seenOrder[0])
		t.seenOrder = t.seenOrder[1:]
	}
	return false
}

// OnConversationActivated marks the conversation active and unconditionally
// zeroes its count, creating the entry if absent so a consumer can tell
// "seen, zero" from "never touched".
func (t *UnreadTracker) OnConversationActivated(c models.Conversation) {
	t.active = c
	t.hasActive = true
	t.counts[c] = 0
}

// OnConversationDeactivated clears the active marker. Counts are left
// untouched: they persist until the conversation is reactivated.
func (t *UnreadTracker) OnConversationDeactivated() {
	t.active = models.Conversation{}
	t.hasActive = false
}

// Active returns the active conversation, if any.
func (t *UnreadTracker) Active() (models.Conversation, bool) {
	return t.active, t.hasActive
}

// Count returns the unread count for a conversation (zero when untouched).
func (t *UnreadTracker) Count(c models.Conversation) int {
	return t.counts[c]
}

// Counts returns a snapshot keyed by the conversations' stable string form.
func (t *UnreadTracker) Counts() map[string]int {
	out := make(map[string]int, len(t.counts))
	for c, n := range t.counts {
		out[c.Key()] = n
	}
	return out
}
