package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueue    = "my-send-receive-queue"
	DeadLetterQueue = "dead_letter_queue"
	defaultPrefetch = 32
)

// AckMode decides when a delivery is acknowledged.
type AckMode string

const (
	// AckAuto lets the broker consider a message delivered as soon as it is
	// handed to the consumer.
	AckAuto AckMode = "auto"
	// AckAfterFanout acks once the handler returns nil and requeues when it
	// returns an error.
	AckAfterFanout AckMode = "after_fanout"
)

var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// MessageHandler processes one delivery body. Returning an error asks for
// redelivery under AckAfterFanout.
type MessageHandler func(ctx context.Context, body []byte) error

type RabbitMQ struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
	logger  logging.Logger
}

func NewRabbitMQ(uri string, logger logging.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitMQ{
		conn:    conn,
		Channel: ch,
		logger:  logger,
	}, nil
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}

// QueueOptions describes the queue the gateway consumes from.
type QueueOptions struct {
	Name               string
	Exchange           string
	RoutingKeys        []string
	DeadLetterExchange string
}

func queueArgs(opts QueueOptions) amqp.Table {
	if opts.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": opts.DeadLetterExchange}
}

// DeclareQueue declares a durable queue, binds it to the exchange for each
// routing key and, when configured, sets up the dead-letter exchange and queue.
func (r *RabbitMQ) DeclareQueue(opts QueueOptions) error {
	if opts.DeadLetterExchange != "" {
		if err := r.Channel.ExchangeDeclare(opts.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", opts.DeadLetterExchange, err)
		}
		if _, err := r.Channel.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", DeadLetterQueue, err)
		}
		if err := r.Channel.QueueBind(DeadLetterQueue, "", opts.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", DeadLetterQueue, err)
		}
	}

	q, err := r.Channel.QueueDeclare(
		opts.Name,       // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		queueArgs(opts), // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", opts.Name, err)
	}

	if opts.Exchange == "" {
		return nil
	}

	if err := r.Channel.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", opts.Exchange, err)
	}
	for _, key := range opts.RoutingKeys {
		if err := r.Channel.QueueBind(q.Name, key, opts.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", opts.Name, err)
		}
	}

	return nil
}

// ConsumeMessages runs handler for every delivery on queue until ctx ends.
// At most prefetch deliveries are handled at once.
func (r *RabbitMQ) ConsumeMessages(ctx context.Context, queue string, mode AckMode, prefetch int, handler MessageHandler) error {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	if err := r.Channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := r.Channel.ConsumeWithContext(
		ctx,
		queue,
		"",              // consumer
		mode == AckAuto, // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	r.logger.Info(logging.RabbitMQ, logging.Consume, "consuming", map[logging.ExtraKey]any{
		logging.Queue:   queue,
		logging.AckMode: string(mode),
	})

	return consume(ctx, deliveries, mode, prefetch, handler, r.logger)
}

func consume(ctx context.Context, deliveries <-chan amqp.Delivery, mode AckMode, limit int, handler MessageHandler, logger logging.Logger) error {
	g := new(errgroup.Group)
	g.SetLimit(limit)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			g.Go(func() error {
				handleDelivery(ctx, d, mode, handler, logger)
				return nil
			})
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, mode AckMode, handler MessageHandler, logger logging.Logger) {
	err := handler(ctx, d.Body)

	if mode == AckAuto {
		if err != nil {
			logger.Warn(logging.RabbitMQ, logging.Consume, "delivery not fully handled", map[logging.ExtraKey]any{
				logging.ErrorMessage: err.Error(),
			})
		}
		return
	}

	if err != nil {
		logger.Warn(logging.RabbitMQ, logging.Consume, "requeueing delivery", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error(logging.RabbitMQ, logging.Consume, "nack failed", map[logging.ExtraKey]any{
				logging.ErrorMessage: nackErr.Error(),
			})
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error(logging.RabbitMQ, logging.Consume, "ack failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: ackErr.Error(),
		})
	}
}

// PublishMessage sends body to queue through the default exchange.
func (r *RabbitMQ) PublishMessage(ctx context.Context, queue string, body []byte) error {
	err := r.Channel.PublishWithContext(ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}
