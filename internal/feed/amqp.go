package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/burakerenkisapro1122/bchat/internal/observability"
)

// AMQP is a Feed over a RabbitMQ topic exchange, one routing key per table.
// Each subscription gets its own exclusive auto-delete queue, so every
// subscriber sees every insert (fan-out, at-least-once). The broker routes
// by table only; row filters are applied on the consume loop.
type AMQP struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu     sync.Mutex
	closed bool
}

// NewAMQP dials the broker and declares the topic exchange.
func NewAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange}, nil
}

type amqpSub struct {
	ch   *amqp.Channel
	once sync.Once
}

// Subscribe binds a fresh exclusive queue to the table's routing key and
// consumes it on a dedicated channel.
func (a *AMQP) Subscribe(ctx context.Context, table string, filter *Filter, fn Handler) (Subscription, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrFeedClosed
	}
	a.mu.Unlock()

	ch, err := a.conn.Channel()
	if err != nil {
		return nil, err
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, table, a.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	go func() {
		for d := range deliveries {
			var ev Event
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Warn().Err(err).Str("table", table).Msg("undecodable feed event dropped")
				continue
			}
			if filter.Matches(ev) {
				fn(ev)
			}
		}
	}()
	return &amqpSub{ch: ch}, nil
}

// Unsubscribe closes the subscription's channel, dropping its exclusive
// queue and ending the consume loop.
func (s *amqpSub) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.ch.Close() })
	return err
}

// Publish routes the inserted row to every bound subscription queue.
func (a *AMQP) Publish(ctx context.Context, table string, row any) error {
	ev, err := NewEvent(table, row)
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = a.ch.PublishWithContext(ctx, a.exchange, table, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return err
	}
	observability.IncFeedPublished(table)
	return nil
}

// Close shuts the publisher channel and the connection; subscription
// channels die with the connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	_ = a.ch.Close()
	return a.conn.Close()
}
