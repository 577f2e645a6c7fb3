package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
)

// Redis is a Feed over Redis pub/sub, one channel per table, for multi-node
// deployments. Redis offers no server-side row filtering, so subscription
// filters are applied on the receive loop before the handler runs.
type Redis struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	closed bool
}

// NewRedis builds a Redis-backed feed. prefix namespaces the pub/sub
// channels, e.g. "bchat" publishes messages on "bchat:messages".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) channel(table string) string {
	return r.prefix + ":" + table
}

type redisSub struct {
	pubsub *redis.PubSub
	once   sync.Once
}

// Subscribe opens a pub/sub subscription on the table's channel and pumps
// matching events into the handler.
func (r *Redis) Subscribe(ctx context.Context, table string, filter *Filter, fn Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrFeedClosed
	}
	pubsub := r.client.Subscribe(ctx, r.channel(table))
	r.mu.Unlock()

	// Force the SUBSCRIBE round trip so a dead broker fails here, not on
	// the receive loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("table", table).Msg("undecodable feed event dropped")
				continue
			}
			if filter.Matches(ev) {
				fn(ev)
			}
		}
	}()
	return &redisSub{pubsub: pubsub}, nil
}

// Unsubscribe closes the pub/sub connection, which ends the receive loop.
func (s *redisSub) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.pubsub.Close() })
	return err
}

// Publish fans the inserted row out to every node subscribed to the table's
// channel.
func (r *Redis) Publish(ctx context.Context, table string, row any) error {
	ev, err := NewEvent(table, row)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(table), payload).Err(); err != nil {
		return err
	}
	observability.IncFeedPublished(table)
	return nil
}

// Close closes the underlying client. Outstanding subscriptions end when
// their connections drop.
func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.client.Close()
}
