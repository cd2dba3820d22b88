package rabbitmq

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-broadcast/config"
	"sync"
	"time"
)

// QueueSpec names the exchange/queue/routing key a consumer binds, plus its dead-letter pair.
type QueueSpec struct {
	Exchange      string
	Queue         string
	RoutingKey    string
	DeadLetterX   string
	DeadLetterQ   string
	DeadLetterKey string
}

var EmbeddingBackfillQueue = QueueSpec{
	Exchange:      LiveExchange,
	Queue:         "embedding_backfill_queue",
	RoutingKey:    RoutingEmbeddingBackfill,
	DeadLetterX:   "live_exchange_dlx",
	DeadLetterQ:   "embedding_backfill_queue_dlq",
	DeadLetterKey: "dlq." + RoutingEmbeddingBackfill,
}

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	spec       QueueSpec
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	log := zerolog.Ctx(ctx).With().Str("queue", c.spec.Queue).Logger()

	err = ch.ExchangeDeclare(c.spec.Exchange, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to declare exchange")
		return err
	}

	err = ch.ExchangeDeclare(c.spec.DeadLetterX, c.cfg.Kind, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to declare dlx")
		return err
	}

	dlq, err := ch.QueueDeclare(c.spec.DeadLetterQ, true, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to declare dlq")
		return err
	}

	err = ch.QueueBind(dlq.Name, c.spec.DeadLetterKey, c.spec.DeadLetterX, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to bind dlq")
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    c.spec.DeadLetterX,
		"x-dead-letter-routing-key": c.spec.DeadLetterKey,
	}
	q, err := ch.QueueDeclare(c.spec.Queue, true, false, false, false, args)
	if err != nil {
		log.Error().Err(err).Msg("failed to declare queue")
		return err
	}

	err = ch.QueueBind(q.Name, c.spec.RoutingKey, c.spec.Exchange, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to bind queue")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		log.Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to consume queue")
		return err
	}

	log.Info().Str("routing_key", c.spec.RoutingKey).Int("workers", c.numWorkers).Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				operation := func() (struct{}, error) {
					return struct{}{}, c.handler(ctx, msg, dependencies)
				}

				bo := backoff.NewExponentialBackOff()
				bo.MaxInterval = 10 * time.Second

				_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(5))
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message after all retries")
					if nackErr := msg.Nack(false, false); nackErr != nil {
						log.Error().Err(nackErr).Msg("failed to nack message to dlq")
					}
					continue
				}
				if ackErr := msg.Ack(false); ackErr != nil {
					log.Error().Err(ackErr).Msg("failed to acknowledge message")
				}
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	spec QueueSpec,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		spec:       spec,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
