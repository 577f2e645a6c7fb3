package session

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/burakerenkisapro1122/bchat/internal/feed"
	"github.com/burakerenkisapro1122/bchat/internal/models"
	"github.com/burakerenkisapro1122/bchat/internal/repositories"
)

// View is the in-memory read model of one loaded conversation: the history
// snapshot plus every live append delivered since. Appends are deduplicated
// by message id because the history fetch and the at-least-once feed can
// both deliver the same row.
type View struct {
	Conversation models.Conversation

	messages []models.MessageView
	seen     map[int]struct{}
	sub      feed.Subscription
}

// Append adds a message to the view unless its id was already delivered.
// Reports whether the view changed.
func (v *View) Append(mv models.MessageView) bool {
	if _, ok := v.seen[mv.ID]; ok {
		return false
	}
	v.seen[mv.ID] = struct{}{}
	v.messages = append(v.messages, mv)
	return true
}

// Messages returns a copy of the current message list.
func (v *View) Messages() []models.MessageView {
	out := make([]models.MessageView, len(v.messages))
	copy(out, v.messages)
	return out
}

// Teardown cancels the view's live subscription. Idempotent; it stops
// further delivery only and never rolls back appends already made.
func (v *View) Teardown() {
	if v.sub != nil {
		_ = v.sub.Unsubscribe()
	}
}

// Loader performs the full historical fetch of a conversation and hands off
// to a live feed subscription for incremental updates. The history snapshot
// is authoritative: the live path is an optimization over the next full
// reload, never a replacement for it.
type Loader struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	feed     feed.Feed
	tracer   trace.Tracer
}

// NewLoader constructs a Loader.
func NewLoader(messages repositories.MessageRepository, users repositories.UserRepository, f feed.Feed) *Loader {
	return &Loader{
		messages: messages,
		users:    users,
		feed:     f,
		tracer:   otel.Tracer("bchat/session"),
	}
}

// Load fetches the ordered history of the conversation as seen by the
// observer, resolves sender profiles, and establishes the live
// subscription. deliver is invoked on the feed's dispatch goroutine for
// every conversation-matching insert and must not block.
//
// Group subscriptions are filtered server-side (group_id = target); the
// feed cannot express the bidirectional pair predicate of a direct
// conversation, so that filter is applied here per incoming event.
func (l *Loader) Load(ctx context.Context, observerID int, conv models.Conversation, deliver func(models.Message)) (*View, error) {
	ctx, span := l.tracer.Start(ctx, "conversation.load")
	span.SetAttributes(
		attribute.String("conversation", conv.Key()),
		attribute.Int("observer_id", observerID),
	)
	defer span.End()

	var (
		history []models.Message
		err     error
	)
	if conv.Kind == models.ConversationGroup {
		history, err = l.messages.ListGroupMessages(ctx, conv.Target)
	} else {
		history, err = l.messages.ListDirectMessages(ctx, observerID, conv.Target)
	}
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", conv.Key(), err)
	}

	names, err := l.senderNames(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("resolve senders for %s: %w", conv.Key(), err)
	}

	view := &View{
		Conversation: conv,
		messages:     make([]models.MessageView, 0, len(history)),
		seen:         make(map[int]struct{}, len(history)),
	}
	for _, msg := range history {
		view.Append(models.MessageView{Message: msg, SenderUsername: names[msg.SenderID]})
	}

	var filter *feed.Filter
	if conv.Kind == models.ConversationGroup {
		filter = feed.Eq("group_id", strconv.Itoa(conv.Target))
	}
	sub, err := l.feed.Subscribe(ctx, feed.TableMessages, filter, func(ev feed.Event) {
		msg, err := ev.Message()
		if err != nil {
			return
		}
		if conv.Kind == models.ConversationDirect && !matchesDirect(msg, observerID, conv.Target) {
			return
		}
		deliver(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", conv.Key(), err)
	}
	view.sub = sub
	return view, nil
}

// ResolveSender joins a bare feed row with its sender profile. The feed
// delivers unjoined rows, so every live append passes through here before
// reaching a view. A failed lookup degrades to an empty username rather
// than dropping the message.
func (l *Loader) ResolveSender(ctx context.Context, msg models.Message) models.MessageView {
	mv := models.MessageView{Message: msg}
	if user, err := l.users.GetByID(ctx, msg.SenderID); err == nil {
		mv.SenderUsername = user.Username
	}
	return mv
}

func (l *Loader) senderNames(ctx context.Context, msgs []models.Message) (map[int]string, error) {
	ids := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			ids = append(ids, m.SenderID)
		}
	}

	names := map[int]string{}
	if len(ids) == 0 {
		return names, nil
	}
	users, err := l.users.BulkUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

// matchesDirect is the bidirectional pair predicate shared by the direct
// history query and the client-side live filter.
func matchesDirect(msg models.Message, observerID, otherID int) bool {
	if msg.GroupID != nil || msg.ReceiverID == nil {
		return false
	}
	return (msg.SenderID == observerID && *msg.ReceiverID == otherID) ||
		(msg.SenderID == otherID && *msg.ReceiverID == observerID)
}
