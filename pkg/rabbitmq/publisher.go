package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

const (
	LiveExchange             = "live_exchange"
	RoutingClipCreated       = "clip.created"
	RoutingEmbeddingBackfill = "embedding.backfill"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type publisher struct {
	conn     *amqp.Connection
	exchange string
	kind     string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection, exchange, kind string) Publisher {
	if kind == "" {
		kind = "direct"
	}
	return &publisher{conn: conn, exchange: exchange, kind: kind}
}

// channel lazily opens and declares the exchange, reopening after the broker closed it.
func (p *publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(p.exchange, p.kind, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	return ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

type noopPublisher struct{}

// NewNoopPublisher drops every message; used when no broker is configured.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	zerolog.Ctx(ctx).Debug().Str("routing_key", routingKey).Msg("broker disabled, message dropped")
	return nil
}
