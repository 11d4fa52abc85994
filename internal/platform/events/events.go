// Package events publishes domain events to a message broker.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// TypeScreeningSubmitted is emitted once per persisted screening.
const TypeScreeningSubmitted = "screening.submitted"

// Event is the envelope placed on the queue.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher writes events to the logger only. It is used when no broker
// is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Interface("data", evt.Data).
		Msg("event")
	return nil
}

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes persistent JSON messages to a durable queue and
// waits for the broker to confirm each one.
type RabbitPublisher struct {
	ch       amqpChannel
	queue    string
	confirms <-chan amqp.Confirmation
	mu       sync.Mutex
}

// NewRabbitPublisher opens a channel on conn, declares queue as durable and
// enables publisher confirms.
func NewRabbitPublisher(conn *amqp.Connection, queue string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return newRabbitPublisher(ch, queue, confirms), nil
}

func newRabbitPublisher(ch amqpChannel, queue string, confirms <-chan amqp.Confirmation) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, queue: queue, confirms: confirms}
}

var errNotConfirmed = errors.New("message not confirmed by broker")

func (p *RabbitPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Type, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Type:         evt.Type,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}

	select {
	case confirmed, ok := <-p.confirms:
		if !ok || !confirmed.Ack {
			return fmt.Errorf("publish to %s: %w", p.queue, errNotConfirmed)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", p.queue, ctx.Err())
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}
