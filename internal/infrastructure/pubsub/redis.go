package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// MessageHandler processes one published payload. Redis pub/sub has no
// acknowledgements, so a returned error is only logged.
type MessageHandler func(ctx context.Context, body []byte) error

// Subscriber feeds messages published on a Redis channel to a handler.
// Anything published while the subscriber is disconnected is lost.
type Subscriber struct {
	client *redis.Client
	logger logging.Logger
}

func NewSubscriber(client *redis.Client, logger logging.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger}
}

// Subscribe blocks until ctx ends, handling messages one at a time in
// publication order.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	sub := s.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	s.logger.Info(logging.Redis, logging.Consume, "subscribed", map[logging.ExtraKey]any{
		logging.Channel: channel,
	})

	drain(ctx, sub.Channel(), handler, s.logger)
	return nil
}

func drain(ctx context.Context, messages <-chan *redis.Message, handler MessageHandler, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := handler(ctx, []byte(msg.Payload)); err != nil {
				logger.Warn(logging.Redis, logging.Consume, "message not fully handled", map[logging.ExtraKey]any{
					logging.Channel:      msg.Channel,
					logging.ErrorMessage: err.Error(),
				})
			}
		}
	}
}

func Publish(ctx context.Context, client *redis.Client, channel string, body []byte) error {
	if err := client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}
