package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/feed"
	"github.com/burakerenkisapro1122/bchat/internal/observability"
	"github.com/burakerenkisapro1122/bchat/internal/repositories"
)

// Manager owns the session lifecycle: login creates a session addressed by
// an opaque token, logout tears it down. Tokens are session addressing, not
// authentication.
type Manager struct {
	users    repositories.UserRepository
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	feed     feed.Feed

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager over the store and the change feed.
func NewManager(users repositories.UserRepository, groups repositories.GroupRepository, messages repositories.MessageRepository, f feed.Feed) *Manager {
	return &Manager{
		users:    users,
		groups:   groups,
		messages: messages,
		feed:     f,
		sessions: make(map[string]*Session),
	}
}

// Login looks the username up, creating the user on first login, and opens
// a live session. A lookup miss followed by a failed create (uniqueness
// race) surfaces as ErrIdentityConflict with no retry.
func (m *Manager) Login(ctx context.Context, username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	user, err := m.users.GetByUsername(ctx, username)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrUserNotFound):
		user, err = m.users.CreateUser(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("%w: create %q: %v", ErrIdentityConflict, username, err)
		}
		created = true
	default:
		return nil, fmt.Errorf("login lookup %q: %w", username, err)
	}

	token := uuid.NewString()
	sess, err := newSession(token, user, m.users, m.groups, m.messages, m.feed)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()
	observability.IncSessionActive()

	if created {
		if perr := m.feed.Publish(ctx, feed.TableUsers, user); perr != nil {
			log.Warn().Err(perr).Str("username", username).Msg("feed publish failed for new user")
		}
	}
	log.Info().Str("username", username).Bool("created", created).Msg("session opened")
	return sess, nil
}

// Validate resolves a bearer token to its live session.
func (m *Manager) Validate(token string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownToken
	}
	return sess, nil
}

// Logout closes the session and forgets its token.
func (m *Manager) Logout(token string) error {
	m.mu.Lock()
	sess, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownToken
	}

	sess.Close()
	observability.DecSessionActive()
	log.Info().Str("username", sess.User.Username).Msg("session closed")
	return nil
}

// Close tears down every live session, for shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
		observability.DecSessionActive()
	}
}
