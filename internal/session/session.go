// Package session implements the realtime delivery and unread-tracking core:
// it turns inserts observed on the change feed into per-conversation,
// per-user delivery and unread-count state for one live-connected session.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/feed"
	"github.com/burakerenkisapro1122/bchat/internal/models"
	"github.com/burakerenkisapro1122/bchat/internal/observability"
	"github.com/burakerenkisapro1122/bchat/internal/repositories"
)

const (
	sessionQueueSize    = 256
	senderLookupTimeout = 5 * time.Second
)

// Notification kinds emitted to session listeners.
const (
	NoteMessageAppended         = "message_appended"
	NoteUnreadChanged           = "unread_changed"
	NoteConversationLoaded      = "conversation_loaded"
	NoteConversationListChanged = "conversation_list_changed"
)

// Notification is one discrete state-transition event. Presentation layers
// subscribe to these instead of polling the read model.
type Notification struct {
	Kind         string              `json:"kind"`
	Conversation string              `json:"conversation,omitempty"`
	Message      *models.MessageView `json:"message,omitempty"`
	Unread       map[string]int      `json:"unread,omitempty"`
}

// Listener consumes notifications. Listeners run on the session's event
// goroutine and must not block.
type Listener func(Notification)

// State is the read model a presentation layer renders: the active
// conversation's message list plus the unread-count map, keyed by the
// conversations' stable string form.
type State struct {
	Active       string               `json:"active,omitempty"`
	Messages     []models.MessageView `json:"messages"`
	UnreadCounts map[string]int       `json:"unread_counts"`
}

// Session is one observing user's live connection to the delivery core.
//
// All feed callbacks and control operations are serialized onto one event
// queue drained by a single goroutine, so tracker and view mutations are
// never concurrent for the same session. The global unread subscription and
// the per-conversation subscription both observe the same inserts; each
// delivery is routed to exactly one consumer path (global -> unread
// accounting, per-conversation -> view append), so no message is double
// counted or appended twice.
type Session struct {
	Token string
	User  models.User

	users    repositories.UserRepository
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	feed     feed.Feed
	loader   *Loader

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	listeners    map[int]Listener
	nextListener int

	// Owned by the event goroutine.
	tracker *UnreadTracker
	view    *View
	epoch   int

	globalSubs []feed.Subscription
}

func newSession(token string, user models.User, users repositories.UserRepository, groups repositories.GroupRepository, messages repositories.MessageRepository, f feed.Feed) (*Session, error) {
	s := &Session{
		Token:     token,
		User:      user,
		users:     users,
		groups:    groups,
		messages:  messages,
		feed:      f,
		loader:    NewLoader(messages, users, f),
		queue:     make(chan func(), sessionQueueSize),
		done:      make(chan struct{}),
		listeners: make(map[int]Listener),
		tracker:   NewUnreadTracker(user.ID),
	}
	go s.run()

	ctx := context.Background()
	for _, spec := range []struct {
		table string
		fn    feed.Handler
	}{
		{feed.TableMessages, s.onGlobalMessage},
		{feed.TableGroups, s.onRosterEvent},
		{feed.TableUsers, s.onRosterEvent},
	} {
		sub, err := f.Subscribe(ctx, spec.table, nil, spec.fn)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.globalSubs = append(s.globalSubs, sub)
	}
	return s, nil
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// enqueue is the feed path onto the event queue: non-blocking, drops when
// the queue is full. A dropped delivery is tolerated because the next full
// history fetch is authoritative.
func (s *Session) enqueue(fn func()) {
	select {
	case <-s.done:
	case s.queue <- fn:
	default:
		observability.IncSessionQueueDropped()
		log.Warn().Str("user", s.User.Username).Msg("session queue full, feed delivery dropped")
	}
}

// call is the control path: it runs fn on the event goroutine and waits for
// it, making operations like activation synchronous with the router.
func (s *Session) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.queue <- func() { fn(); close(ran) }:
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) onGlobalMessage(ev feed.Event) {
	msg, err := ev.Message()
	if err != nil {
		return
	}
	s.enqueue(func() { s.observeUnread(msg) })
}

func (s *Session) onRosterEvent(ev feed.Event) {
	s.enqueue(func() { s.notify(Notification{Kind: NoteConversationListChanged}) })
}

// observeUnread is the global consumer path: unread accounting only. The
// tracker already no-ops for the active conversation, which is what keeps
// this path from double counting messages the per-conversation path appends.
func (s *Session) observeUnread(msg models.Message) {
	observability.IncFeedDelivery("global")
	if !s.tracker.OnMessageObserved(msg) {
		return
	}
	cls := Classify(msg, s.User.ID)
	s.notify(Notification{
		Kind:         NoteUnreadChanged,
		Conversation: cls.Conversation.Key(),
		Unread:       s.tracker.Counts(),
	})
}

// appendLive is the per-conversation consumer path. Deliveries tagged with
// a superseded epoch belong to a conversation that is no longer on screen
// and are discarded. The view must also match the delivery's conversation: a
// delivery can arrive after its subscription is established but before its
// view installs, while the previous conversation's view is still in place.
func (s *Session) appendLive(epoch int, conv models.Conversation, msg models.Message) {
	if epoch != s.epoch || s.view == nil || s.view.Conversation != conv {
		return
	}
	observability.IncFeedDelivery("conversation")

	ctx, cancel := context.WithTimeout(context.Background(), senderLookupTimeout)
	defer cancel()
	mv := s.loader.ResolveSender(ctx, msg)
	if s.view.Append(mv) {
		s.notify(Notification{
			Kind:         NoteMessageAppended,
			Conversation: s.view.Conversation.Key(),
			Message:      &mv,
		})
	}
}

// ActivateConversation makes the conversation the active view: the unread
// count drops to zero synchronously, the previous view's subscription is
// torn down, and the ordered history is fetched and handed off to a live
// subscription.
//
// A history fetch failure is surfaced and leaves the previous (now
// unsubscribed, stale) view in place rather than crashing the session.
func (s *Session) ActivateConversation(ctx context.Context, conv models.Conversation) error {
	if conv.Kind != models.ConversationDirect && conv.Kind != models.ConversationGroup {
		return ErrInvalidConversation
	}

	var epoch int
	if err := s.call(func() {
		s.epoch++
		epoch = s.epoch
		if s.view != nil {
			s.view.Teardown()
		}
		s.tracker.OnConversationActivated(conv)
		s.notify(Notification{
			Kind:         NoteUnreadChanged,
			Conversation: conv.Key(),
			Unread:       s.tracker.Counts(),
		})
	}); err != nil {
		return err
	}

	view, err := s.loader.Load(ctx, s.User.ID, conv, func(msg models.Message) {
		s.enqueue(func() { s.appendLive(epoch, conv, msg) })
	})
	if err != nil {
		return err
	}

	return s.call(func() {
		if epoch != s.epoch {
			// A newer activation won the race; this view never installs.
			view.Teardown()
			return
		}
		s.view = view
		s.notify(Notification{Kind: NoteConversationLoaded, Conversation: conv.Key()})
	})
}

// DeactivateConversation tears down the active view. Unread counts are left
// untouched.
func (s *Session) DeactivateConversation() error {
	return s.call(func() {
		s.epoch++
		if s.view != nil {
			s.view.Teardown()
			s.view = nil
		}
		s.tracker.OnConversationDeactivated()
	})
}

// SendMessage trims and persists a message to the conversation. A blank
// message after trimming is a silent no-op. An insert failure is surfaced so
// the content is not silently lost; a publish failure after a successful
// insert is transient and only logged, since the next history fetch
// reconciles.
func (s *Session) SendMessage(ctx context.Context, conv models.Conversation, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	var (
		msg models.Message
		err error
	)
	switch conv.Kind {
	case models.ConversationGroup:
		member, merr := s.groups.IsMember(ctx, conv.Target, s.User.ID)
		if merr != nil {
			return nil, merr
		}
		if !member {
			return nil, ErrNotGroupMember
		}
		msg, err = s.messages.CreateGroupMessage(ctx, s.User.ID, conv.Target, content)
	case models.ConversationDirect:
		msg, err = s.messages.CreateDirectMessage(ctx, s.User.ID, conv.Target, content)
	default:
		return nil, ErrInvalidConversation
	}
	if err != nil {
		return nil, err
	}
	observability.IncMessageSent(string(conv.Kind))

	// The managed platform would emit the insert itself; here the service
	// publishes after the commit stands in for that storage-side emission.
	if perr := s.feed.Publish(ctx, feed.TableMessages, msg); perr != nil {
		log.Warn().Err(perr).Int("message_id", msg.ID).Msg("feed publish failed, history fetch will reconcile")
	}

	// Local echo into the active view; the feed delivery of the same row is
	// deduplicated by message id.
	mv := models.MessageView{Message: msg, SenderUsername: s.User.Username}
	_ = s.call(func() {
		if s.view != nil && s.view.Conversation == conv && s.view.Append(mv) {
			s.notify(Notification{
				Kind:         NoteMessageAppended,
				Conversation: conv.Key(),
				Message:      &mv,
			})
		}
	})
	return &msg, nil
}

// CreateGroup creates a group with the session user as first member and
// announces it on the feed so other sessions refresh their rosters.
func (s *Session) CreateGroup(ctx context.Context, name string) (models.Group, error) {
	name = strings.TrimSpace(name)
	group, err := s.groups.CreateGroup(ctx, name, s.User.ID)
	if err != nil {
		return models.Group{}, err
	}
	if perr := s.feed.Publish(ctx, feed.TableGroups, group); perr != nil {
		log.Warn().Err(perr).Int("group_id", group.ID).Msg("feed publish failed for group")
	}
	return group, nil
}

// AddGroupMember records an additional membership. The group and user must
// exist.
func (s *Session) AddGroupMember(ctx context.Context, groupID, userID int) error {
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.groups.AddMember(ctx, groupID, userID)
}

// ListConversations returns the roster: every other user and every group.
func (s *Session) ListConversations(ctx context.Context) ([]models.User, []models.Group, error) {
	users, err := s.users.ListOthers(ctx, s.User.ID)
	if err != nil {
		return nil, nil, err
	}
	groups, err := s.groups.ListGroups(ctx)
	if err != nil {
		return nil, nil, err
	}
	return users, groups, nil
}

// State returns a consistent snapshot of the read model.
func (s *Session) State() State {
	st := State{Messages: []models.MessageView{}, UnreadCounts: map[string]int{}}
	_ = s.call(func() {
		if active, ok := s.tracker.Active(); ok {
			st.Active = active.Key()
		}
		if s.view != nil {
			st.Messages = s.view.Messages()
		}
		st.UnreadCounts = s.tracker.Counts()
	})
	return st
}

// Subscribe registers a notification listener and returns its handle.
func (s *Session) Subscribe(fn Listener) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	s.listeners[s.nextListener] = fn
	return s.nextListener
}

// Unsubscribe removes a listener. Unknown handles are ignored.
func (s *Session) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, id)
}

func (s *Session) notify(n Notification) {
	s.mu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// Close tears the session down: feed subscriptions, active view, event
// goroutine, listeners. Idempotent. Cancellation stops further delivery
// only; effects of events already delivered are not undone.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, sub := range s.globalSubs {
			_ = sub.Unsubscribe()
		}
		_ = s.call(func() {
			if s.view != nil {
				s.view.Teardown()
				s.view = nil
			}
		})
		close(s.done)
		s.mu.Lock()
		s.listeners = make(map[int]Listener)
		s.mu.Unlock()
	})
}
