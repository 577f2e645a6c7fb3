package feed

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
)

const subscriptionBuffer = 256

// Memory is an in-process Feed for single-node deployments and tests. Each
// subscription drains its own buffered queue on its own goroutine, so - like
// the networked transports - there is no ordering guarantee across distinct
// subscriptions, and a subscriber that falls behind loses events instead of
// stalling publishers.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySub
	closed bool
}

// NewMemory constructs an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]*memorySub)}
}

type memorySub struct {
	broker *Memory
	id     int
	table  string
	filter *Filter
	fn     Handler
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a handler for inserts on the table. The filter is
// applied broker-side, standing in for the server-side filtering a real feed
// offers.
func (m *Memory) Subscribe(ctx context.Context, table string, filter *Filter, fn Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrFeedClosed
	}
	m.nextID++
	sub := &memorySub{
		broker: m,
		id:     m.nextID,
		table:  table,
		filter: filter,
		fn:     fn,
		ch:     make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	m.subs[sub.id] = sub
	go sub.run()
	return sub, nil
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.ch:
			s.fn(ev)
		}
	}
}

// Unsubscribe stops further delivery. Events already queued for this
// subscription are discarded, not replayed.
func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Publish delivers the inserted row to every matching subscription.
func (m *Memory) Publish(ctx context.Context, table string, row any) error {
	ev, err := NewEvent(table, row)
	if err != nil {
		return err
	}

	m.mu.RLock()
	targets := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.table == table && sub.filter.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			observability.IncFeedDropped(table)
			log.Warn().Str("table", table).Msg("feed subscriber queue full, event dropped")
		}
	}
	observability.IncFeedPublished(table)
	return nil
}

// Close tears down every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return nil
}
