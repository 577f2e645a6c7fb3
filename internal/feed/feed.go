// Package feed is the change-feed boundary: every row inserted into the
// shared store is published here and delivered to live subscribers. Delivery
// is at-least-once and carries no ordering guarantee across distinct
// subscriptions, so consumers reconcile against a full store fetch rather
// than trusting the stream.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/burakerenkisapro1122/bchat/internal/models"
)

// ErrFeedClosed is returned by Subscribe after the feed has been closed.
var ErrFeedClosed = errors.New("feed closed")

// Table names events can be published under.
const (
	TableMessages = "messages"
	TableGroups   = "groups"
	TableUsers    = "users"
)

// Event is one inserted row as delivered to subscribers.
type Event struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// NewEvent wraps an inserted row for publishing.
func NewEvent(table string, row any) (Event, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s row: %w", table, err)
	}
	return Event{Table: table, Row: data}, nil
}

// Message decodes the event row as a message. Valid only for TableMessages
// events.
func (e Event) Message() (models.Message, error) {
	var msg models.Message
	err := json.Unmarshal(e.Row, &msg)
	return msg, err
}

// Group decodes the event row as a group.
func (e Event) Group() (models.Group, error) {
	var group models.Group
	err := json.Unmarshal(e.Row, &group)
	return group, err
}

// User decodes the event row as a user.
func (e Event) User() (models.User, error) {
	var user models.User
	err := json.Unmarshal(e.Row, &user)
	return user, err
}

// Filter narrows a subscription to rows whose column equals a value, the
// only predicate the backing feeds can express. A nil filter receives every
// insert on the table. Predicates the feed cannot express (notably the
// bidirectional pair match of a direct conversation) are the subscriber's
// job, applied per event.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) *Filter {
	return &Filter{Column: column, Value: value}
}

// Matches reports whether the event row satisfies the filter. A nil filter
// matches everything; a row without the column (or with a null value) never
// matches.
func (f *Filter) Matches(e Event) bool {
	if f == nil {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(e.Row, &row); err != nil {
		return false
	}
	val, ok := row[f.Column]
	if !ok || val == nil {
		return false
	}
	return fmt.Sprint(val) == f.Value
}

// Handler consumes delivered events. Handlers run on the adapter's dispatch
// goroutine and must not block.
type Handler func(Event)

// Subscription is a live handle onto a table's insert stream. Unsubscribe
// stops further delivery; it does not undo effects of events already
// delivered, and it is safe to call more than once.
type Subscription interface {
	Unsubscribe() error
}

// Feed is the change-feed transport.
type Feed interface {
	Subscribe(ctx context.Context, table string, filter *Filter, fn Handler) (Subscription, error)
	Publish(ctx context.Context, table string, row any) error
	Close() error
}
