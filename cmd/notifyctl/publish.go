package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hilthontt/notifygate/internal/domain"
	"github.com/hilthontt/notifygate/internal/infrastructure/configs"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/messaging"
	"github.com/hilthontt/notifygate/internal/infrastructure/pubsub"
	"github.com/spf13/cobra"
)

type publishOptions struct {
	eventType string
	recipient string
	data      string
	redis     bool
}

func newPublishCmd() *cobra.Command {
	opts := &publishOptions{}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an upstream event to the gateway's queue",
		Long: "Publishes one upstream event to the configured RabbitMQ queue, " +
			"or to the Redis channel with --redis.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := buildEvent(opts)
			if err != nil {
				return err
			}

			cfg, err := configs.Load(configs.DetermineConfigPath(configPath))
			if err != nil {
				return err
			}

			if opts.redis {
				client, err := pubsub.NewRedisClient(cmd.Context(), pubsub.RedisConfig{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				if err != nil {
					return err
				}
				defer client.Close()

				if err := pubsub.Publish(cmd.Context(), client, cfg.Redis.Channel, body); err != nil {
					return err
				}
				cmd.Printf("published to redis channel %s\n", cfg.Redis.Channel)
				return nil
			}

			rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URI, logging.NewNopLogger())
			if err != nil {
				return err
			}
			defer rabbit.Close()

			if err := rabbit.PublishMessage(cmd.Context(), cfg.RabbitMQ.Queue, body); err != nil {
				return err
			}
			cmd.Printf("published to rabbitmq queue %s\n", cfg.RabbitMQ.Queue)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.eventType, "type", "t", domain.TypeNotification, "event type")
	cmd.Flags().StringVarP(&opts.recipient, "recipient", "r", "", "owner id the event is addressed to")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "JSON data carried by the event")
	cmd.Flags().BoolVar(&opts.redis, "redis", false, "publish on the Redis channel instead of RabbitMQ")

	return cmd
}

func init() {
	rootCmd.AddCommand(newPublishCmd())
}

// buildEvent validates the flags and encodes the upstream event body.
func buildEvent(opts *publishOptions) ([]byte, error) {
	data := strings.TrimSpace(opts.data)
	if data == "" {
		return nil, errors.New("--data is required")
	}
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("--data is not valid JSON: %s", data)
	}

	evt := domain.UpstreamEvent{
		Type: strings.TrimSpace(opts.eventType),
		Data: json.RawMessage(data),
	}
	if !evt.Valid() {
		return nil, errors.New("--type and a non-null --data are required")
	}

	if evt.Is(domain.TypeNotification) {
		recipient, err := domain.ParseOwner(opts.recipient, true)
		if err != nil {
			return nil, fmt.Errorf("--recipient %q: %w", opts.recipient, err)
		}
		evt.Recipient = recipient
	} else {
		evt.Recipient = strings.TrimSpace(opts.recipient)
	}

	return evt.Encode()
}
