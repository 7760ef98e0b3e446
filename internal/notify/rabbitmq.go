package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitPublisher publishes events to a durable topic exchange, routed by event type.
type RabbitPublisher struct {
	ch          channel
	exchange    string
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
}

func NewRabbitPublisher(conn *amqp.Connection, exchange string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return newRabbitPublisher(ch, exchange), nil
}

func newRabbitPublisher(ch channel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{
		ch:          ch,
		exchange:    exchange,
		baseDelay:   500 * time.Millisecond,
		maxDelay:    10 * time.Second,
		maxAttempts: 5,
	}
}

func (p *RabbitPublisher) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.publishWithRetry(ctx, ev.Type, body)
}

func (p *RabbitPublisher) publishWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}

		backoff := p.baseDelay << (attempt - 1)
		if backoff > p.maxDelay {
			backoff = p.maxDelay
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", key, p.maxAttempts, lastErr)
}
