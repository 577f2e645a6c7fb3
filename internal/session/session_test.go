package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burakerenkisapro1122/bchat/internal/feed"
	"github.com/burakerenkisapro1122/bchat/internal/models"
	"github.com/burakerenkisapro1122/bchat/internal/repositories"
	"github.com/burakerenkisapro1122/bchat/internal/session"
)

// fakeStore is an in-memory stand-in for the Postgres repositories:
// insertion order doubles as the created_at/id ordering the real queries
// produce.
type fakeStore struct {
	mu             sync.Mutex
	users          map[int]models.User
	byName         map[string]int
	groups         map[int]models.Group
	members        map[int]map[int]bool
	msgs           []models.Message
	nextUser       int
	nextGroup      int
	nextMsg        int
	failCreateUser bool
	failListDirect bool
}

var (
	_ repositories.UserRepository    = (*fakeStore)(nil)
	_ repositories.GroupRepository   = (*fakeStore)(nil)
	_ repositories.MessageRepository = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[int]models.User),
		byName:  make(map[string]int),
		groups:  make(map[int]models.Group),
		members: make(map[int]map[int]bool),
	}
}

func (s *fakeStore) GetByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[username]; ok {
		return s.users[id], nil
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (s *fakeStore) GetByID(ctx context.Context, id int) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return models.User{}, repositories.ErrUserNotFound
}

func (s *fakeStore) CreateUser(ctx context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateUser {
		return models.User{}, repositories.ErrUsernameTaken
	}
	s.nextUser++
	user := models.User{ID: s.nextUser, Username: username, CreatedAt: time.Now()}
	s.users[user.ID] = user
	s.byName[username] = user.ID
	return user, nil
}

func (s *fakeStore) ListOthers(ctx context.Context, excludeID int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if u.ID != excludeID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) BulkUsers(ctx context.Context, ids []int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateGroup(ctx context.Context, name string, creatorID int) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroup++
	group := models.Group{ID: s.nextGroup, Name: name, CreatedAt: time.Now()}
	s.groups[group.ID] = group
	s.members[group.ID] = map[int]bool{creatorID: true}
	return group, nil
}

func (s *fakeStore) AddMember(ctx context.Context, groupID, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[groupID]; !ok {
		s.members[groupID] = map[int]bool{}
	}
	s.members[groupID][userID] = true
	return nil
}

func (s *fakeStore) ListGroups(ctx context.Context) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Group
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeStore) GetGroup(ctx context.Context, groupID int) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[groupID]; ok {
		return g, nil
	}
	return models.Group{}, repositories.ErrGroupNotFound
}

func (s *fakeStore) IsMember(ctx context.Context, groupID, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[groupID][userID], nil
}

func (s *fakeStore) CreateDirectMessage(ctx context.Context, senderID, receiverID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	recv := receiverID
	msg := models.Message{ID: s.nextMsg, SenderID: senderID, ReceiverID: &recv, Content: content, CreatedAt: time.Now()}
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

func (s *fakeStore) CreateGroupMessage(ctx context.Context, senderID, groupID int, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	gid := groupID
	msg := models.Message{ID: s.nextMsg, SenderID: senderID, GroupID: &gid, Content: content, CreatedAt: time.Now()}
	s.msgs = append(s.msgs, msg)
	return msg, nil
}

func (s *fakeStore) ListDirectMessages(ctx context.Context, userID, otherID int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failListDirect {
		return nil, fmt.Errorf("query failed")
	}
	var out []models.Message
	for _, m := range s.msgs {
		if m.ReceiverID == nil {
			continue
		}
		if (m.SenderID == userID && *m.ReceiverID == otherID) || (m.SenderID == otherID && *m.ReceiverID == userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) ListGroupMessages(ctx context.Context, groupID int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.msgs {
		if m.GroupID != nil && *m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func setupManager(t *testing.T) (*session.Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	bus := feed.NewMemory()
	mgr := session.NewManager(store, store, store, bus)
	t.Cleanup(func() {
		mgr.Close()
		bus.Close()
	})
	return mgr, store
}

func login(t *testing.T, mgr *session.Manager, username string) *session.Session {
	t.Helper()
	sess, err := mgr.Login(context.Background(), username)
	require.NoError(t, err)
	return sess
}

func waitUnread(t *testing.T, sess *session.Session, key string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.State().UnreadCounts[key] == want
	}, 2*time.Second, 10*time.Millisecond, "unread[%s] never reached %d (got %v)", key, want, sess.State().UnreadCounts)
}

func TestLoginCreatesUserOnFirstLoginOnly(t *testing.T) {
	mgr, store := setupManager(t)

	first := login(t, mgr, "alice")
	second := login(t, mgr, "alice")

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.NotEqual(t, first.Token, second.Token, "each login is its own session")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.users, 1)
}

func TestLoginIdentityConflict(t *testing.T) {
	mgr, store := setupManager(t)
	store.failCreateUser = true

	_, err := mgr.Login(context.Background(), "alice")
	require.ErrorIs(t, err, session.ErrIdentityConflict)
}

func TestLoginEmptyUsername(t *testing.T) {
	mgr, _ := setupManager(t)

	_, err := mgr.Login(context.Background(), "   ")
	require.ErrorIs(t, err, session.ErrEmptyUsername)
}

func TestLogoutInvalidatesToken(t *testing.T) {
	mgr, _ := setupManager(t)
	sess := login(t, mgr, "alice")

	_, err := mgr.Validate(sess.Token)
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(sess.Token))
	_, err = mgr.Validate(sess.Token)
	require.ErrorIs(t, err, session.ErrUnknownToken)
	require.ErrorIs(t, mgr.Logout(sess.Token), session.ErrUnknownToken)
}

func TestSendAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	for _, content := range []string{"one", "two", "three"} {
		msg, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), content)
		require.NoError(t, err)
		require.NotNil(t, msg)
	}

	require.NoError(t, alice.ActivateConversation(ctx, models.DirectConversation(bob.User.ID)))

	state := alice.State()
	require.Len(t, state.Messages, 3, "each message exactly once")
	for i, content := range []string{"one", "two", "three"} {
		assert.Equal(t, content, state.Messages[i].Content, "insertion order preserved")
		assert.Equal(t, "alice", state.Messages[i].SenderUsername)
	}
}

func TestSendTrimsAndSkipsBlankContent(t *testing.T) {
	ctx := context.Background()
	mgr, store := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	msg, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "  hello  ")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Content)

	msg, err = alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "   ")
	require.NoError(t, err)
	assert.Nil(t, msg, "blank message is a silent no-op")

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.msgs, 1)
}

func TestUnreadAccruesWhileViewingAnotherConversation(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")
	carol := login(t, mgr, "carol")

	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(carol.User.ID)))

	for i := 0; i < 3; i++ {
		_, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "ping")
		require.NoError(t, err)
	}

	aliceKey := models.DirectConversation(alice.User.ID).Key()
	carolKey := models.DirectConversation(carol.User.ID).Key()
	waitUnread(t, bob, aliceKey, 3)

	counts := bob.State().UnreadCounts
	n, ok := counts[carolKey]
	assert.True(t, ok, "activation establishes a zeroed entry")
	assert.Equal(t, 0, n, "active conversation count pinned to zero")
}

func TestActivationResetsUnreadImmediately(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	_, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "hi")
	require.NoError(t, err)

	aliceKey := models.DirectConversation(alice.User.ID).Key()
	waitUnread(t, bob, aliceKey, 1)

	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID)))
	assert.Equal(t, 0, bob.State().UnreadCounts[aliceKey])
}

func TestActiveGroupSuppressesUnreadAndAppendsOnce(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	group, err := alice.CreateGroup(ctx, "lounge")
	require.NoError(t, err)
	require.NoError(t, alice.AddGroupMember(ctx, group.ID, bob.User.ID))

	conv := models.GroupConversation(group.ID)
	require.NoError(t, bob.ActivateConversation(ctx, conv))

	_, err = alice.SendMessage(ctx, conv, "hello room")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bob.State().Messages) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the global and per-conversation paths time to misbehave before
	// asserting exactly-once delivery and zero unread.
	time.Sleep(50 * time.Millisecond)
	state := bob.State()
	require.Len(t, state.Messages, 1, "global and per-conversation paths must not both append")
	assert.Equal(t, "hello room", state.Messages[0].Content)
	assert.Equal(t, "alice", state.Messages[0].SenderUsername)
	assert.Equal(t, 0, state.UnreadCounts[conv.Key()], "active conversation accrues nothing")
}

func TestOwnGroupPostEchoesOnce(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")

	group, err := alice.CreateGroup(ctx, "solo")
	require.NoError(t, err)

	conv := models.GroupConversation(group.ID)
	require.NoError(t, alice.ActivateConversation(ctx, conv))

	_, err = alice.SendMessage(ctx, conv, "first")
	require.NoError(t, err)

	// The local echo and the feed delivery of the same row must collapse.
	time.Sleep(50 * time.Millisecond)
	state := alice.State()
	require.Len(t, state.Messages, 1)
	assert.Equal(t, 0, state.UnreadCounts[conv.Key()])
}

func TestIrrelevantDirectMessageLeavesObserverUntouched(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")
	carol := login(t, mgr, "carol")

	_, err := alice.SendMessage(ctx, models.DirectConversation(carol.User.ID), "secret")
	require.NoError(t, err)

	// Wait until the intended receiver observed it, then check the
	// bystander's map stayed empty.
	waitUnread(t, carol, models.DirectConversation(alice.User.ID).Key(), 1)
	assert.Empty(t, bob.State().UnreadCounts)
	assert.Empty(t, bob.State().Messages)
}

func TestDirectViewFiltersForeignPairs(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")
	carol := login(t, mgr, "carol")

	// Bob watches his exchange with alice; a carol->alice message must not
	// leak into it even though the feed cannot filter pairs server-side.
	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID)))

	_, err := carol.SendMessage(ctx, models.DirectConversation(alice.User.ID), "for alice only")
	require.NoError(t, err)
	waitUnread(t, alice, models.DirectConversation(carol.User.ID).Key(), 1)

	assert.Empty(t, bob.State().Messages)
}

// stagedFeed wraps a Feed and delivers staged events synchronously inside
// Subscribe, the instant a filtered (per-conversation) subscription is
// established. This models a feed delivery landing between subscription
// establishment and view install.
type stagedFeed struct {
	feed.Feed
	mu     sync.Mutex
	staged []feed.Event
}

func (f *stagedFeed) stage(t *testing.T, table string, row any) {
	t.Helper()
	ev, err := feed.NewEvent(table, row)
	require.NoError(t, err)
	f.mu.Lock()
	f.staged = append(f.staged, ev)
	f.mu.Unlock()
}

func (f *stagedFeed) Subscribe(ctx context.Context, table string, filter *feed.Filter, fn feed.Handler) (feed.Subscription, error) {
	sub, err := f.Feed.Subscribe(ctx, table, filter, fn)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return sub, nil
	}
	f.mu.Lock()
	staged := f.staged
	f.staged = nil
	f.mu.Unlock()
	for _, ev := range staged {
		if filter.Matches(ev) {
			fn(ev)
		}
	}
	return sub, nil
}

func TestEarlyDeliveryDuringActivationIsNotMisrouted(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	inner := feed.NewMemory()
	bus := &stagedFeed{Feed: inner}
	mgr := session.NewManager(store, store, store, bus)
	t.Cleanup(func() {
		mgr.Close()
		inner.Close()
	})

	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	group, err := alice.CreateGroup(ctx, "lounge")
	require.NoError(t, err)
	require.NoError(t, alice.AddGroupMember(ctx, group.ID, bob.User.ID))

	directConv := models.DirectConversation(alice.User.ID)
	require.NoError(t, bob.ActivateConversation(ctx, directConv))

	var mu sync.Mutex
	var appended []session.Notification
	id := bob.Subscribe(func(n session.Notification) {
		if n.Kind == session.NoteMessageAppended {
			mu.Lock()
			appended = append(appended, n)
			mu.Unlock()
		}
	})
	defer bob.Unsubscribe(id)

	// A group message delivered the instant the group subscription exists,
	// while the previous direct view is still installed.
	gid := group.ID
	bus.stage(t, feed.TableMessages, models.Message{ID: 999, SenderID: alice.User.ID, GroupID: &gid, Content: "early"})

	groupConv := models.GroupConversation(group.ID)
	require.NoError(t, bob.ActivateConversation(ctx, groupConv))

	time.Sleep(50 * time.Millisecond)
	state := bob.State()
	assert.Equal(t, groupConv.Key(), state.Active)
	assert.Empty(t, state.Messages, "a delivery racing the install never lands in a view")

	mu.Lock()
	defer mu.Unlock()
	for _, n := range appended {
		assert.NotEqual(t, directConv.Key(), n.Conversation, "append routed to the superseded conversation")
	}
}

func TestConversationSwitchStopsOldDeliveries(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")
	carol := login(t, mgr, "carol")

	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID)))
	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(carol.User.ID)))

	_, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "late")
	require.NoError(t, err)

	// The alice message accrues as unread and never lands in the carol view.
	waitUnread(t, bob, models.DirectConversation(alice.User.ID).Key(), 1)
	state := bob.State()
	assert.Equal(t, models.DirectConversation(carol.User.ID).Key(), state.Active)
	assert.Empty(t, state.Messages)
}

func TestDeactivateKeepsCountsAndDropsView(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID)))
	require.NoError(t, bob.DeactivateConversation())

	_, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "while away")
	require.NoError(t, err)

	aliceKey := models.DirectConversation(alice.User.ID).Key()
	waitUnread(t, bob, aliceKey, 1)
	state := bob.State()
	assert.Empty(t, state.Active)
	assert.Empty(t, state.Messages)
}

func TestActivateQueryFailureSurfaced(t *testing.T) {
	ctx := context.Background()
	mgr, store := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	store.mu.Lock()
	store.failListDirect = true
	store.mu.Unlock()

	err := alice.ActivateConversation(ctx, models.DirectConversation(bob.User.ID))
	require.Error(t, err)
}

func TestSendToGroupRequiresMembership(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	group, err := alice.CreateGroup(ctx, "private")
	require.NoError(t, err)

	_, err = bob.SendMessage(ctx, models.GroupConversation(group.ID), "let me in")
	require.ErrorIs(t, err, session.ErrNotGroupMember)
}

func TestListenerReceivesNotifications(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")

	var mu sync.Mutex
	kinds := map[string]int{}
	id := bob.Subscribe(func(n session.Notification) {
		mu.Lock()
		kinds[n.Kind]++
		mu.Unlock()
	})
	defer bob.Unsubscribe(id)

	_, err := alice.SendMessage(ctx, models.DirectConversation(bob.User.ID), "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return kinds[session.NoteUnreadChanged] >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID)))
	mu.Lock()
	assert.GreaterOrEqual(t, kinds[session.NoteConversationLoaded], 1)
	mu.Unlock()
}

func TestOperationsAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t)
	alice := login(t, mgr, "alice")
	bob := login(t, mgr, "bob")
	require.NoError(t, mgr.Logout(bob.Token))

	err := bob.ActivateConversation(ctx, models.DirectConversation(alice.User.ID))
	require.ErrorIs(t, err, session.ErrSessionClosed)
	require.ErrorIs(t, bob.DeactivateConversation(), session.ErrSessionClosed)
}
