package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hilthontt/notifygate/internal/application/bridge"
	"github.com/hilthontt/notifygate/internal/application/router"
	"github.com/hilthontt/notifygate/internal/infrastructure/configs"
	"github.com/hilthontt/notifygate/internal/infrastructure/db"
	"github.com/hilthontt/notifygate/internal/infrastructure/identity"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/messaging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/pubsub"
	"github.com/hilthontt/notifygate/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/notifygate/internal/infrastructure/reporting"
	"github.com/hilthontt/notifygate/internal/infrastructure/tracing"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	"github.com/hilthontt/notifygate/internal/presentation/api"
	healthHandler "github.com/hilthontt/notifygate/internal/presentation/handler/health"
	notificationsHandler "github.com/hilthontt/notifygate/internal/presentation/handler/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "gateway",
		Short:        "Websocket notification gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, configs.DetermineConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := configs.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})
	logger.Init()
	defer func() { _ = logger.Sync() }()

	reporter, err := reporting.New(reporting.Config{
		Dsn:         cfg.Sentry.Dsn,
		Environment: cfg.Sentry.Environment,
		Debug:       cfg.Sentry.Debug,
	})
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	registry := ws.NewRegistry(logger, m)
	defer registry.Close()

	fanout := ws.NewFanout(registry, logger, m, cfg.Fanout.MaxConcurrency)
	listener := ws.NewListener(registry, router.New(registry, fanout, logger, m), logger, m, reporter, ws.ListenerConfig{
		PongWait:          cfg.WS.PongWait,
		PingPeriod:        cfg.WS.PingPeriod,
		MaxMessageSize:    cfg.WS.MaxMessageSize,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		MessageBurst:      cfg.WS.MessageBurst,
	})

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = pubsub.NewRedisClient(ctx, pubsub.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	resolver, closeResolver, err := newResolver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeResolver()

	limiter := ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: cfg.RateLimiter.MaxRatePerSecond,
		MaxBurst:         cfg.RateLimiter.MaxBurst,
		Cache:            newLimiterStore(cfg, redisClient),
		CacheTTL:         cfg.RateLimiter.CacheTTL,
		SourceHeaderKey:  cfg.RateLimiter.SourceHeaderKey,
	})
	defer limiter.Close()

	upgrader := ws.NewUpgrader(ws.UpgraderConfig{
		ReadBufferSize:  cfg.WS.ReadBufferSize,
		WriteBufferSize: cfg.WS.WriteBufferSize,
		WriteWait:       cfg.WS.WriteWait,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	})

	app := api.NewApplication(
		*cfg,
		healthHandler.NewHandler(registry),
		notificationsHandler.NewHandler(upgrader, resolver, registry, listener, logger, reporter, cfg.WS.TokenParam),
		logger,
		limiter,
		m,
		promRegistry,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Run(gctx, app.Mount())
	})
	g.Go(func() error {
		return runBridge(gctx, cfg, bridge.New(fanout, logger, m), redisClient, logger)
	})

	err = g.Wait()
	if err != nil {
		logger.Error(logging.General, logging.Shutdown, "gateway stopped with error", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		reporter.CaptureError(err, map[string]string{"component": "gateway"})
	}

	logger.Info(logging.General, logging.Shutdown, "closing connections", map[logging.ExtraKey]any{
		"open_connections": registry.Len(),
	})
	return err
}

// newResolver returns the configured owner resolver behind an LRU cache. The
// returned func releases whatever backs it.
func newResolver(ctx context.Context, cfg *configs.Config, logger logging.Logger) (identity.Resolver, func(), error) {
	strict := cfg.WS.StrictOwners

	switch cfg.Identity.Mode {
	case configs.IdentityMongo:
		client, err := db.NewMongoClient(ctx, &db.MongoConfig{
			URI:               cfg.Mongo.URI,
			Database:          cfg.Mongo.Database,
			ConnectionTimeout: cfg.Mongo.ConnectionTimeout,
		})
		if err != nil {
			return nil, nil, err
		}

		collection := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		resolver := identity.NewCached(identity.NewMongoResolver(collection, strict), cfg.Identity.CacheSize, cfg.Identity.CacheTTL)

		logger.Info(logging.MongoDB, logging.Startup, "resolving owners from mongodb", map[logging.ExtraKey]any{
			"collection": cfg.Mongo.Collection,
		})

		return resolver, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.DisconnectMongo(disconnectCtx, client)
		}, nil
	default:
		return identity.TokenIsOwner{Strict: strict}, func() {}, nil
	}
}

func newLimiterStore(cfg *configs.Config, client *redis.Client) ratelimiter.GetterSetter {
	if cfg.RateLimiter.Store == configs.StoreRedis && client != nil {
		return ratelimiter.NewRedis(client, "notifygate:")
	}
	return ratelimiter.NewInMemory(0, cfg.RateLimiter.CacheTTL)
}

// runBridge feeds the configured upstream source into the bridge until ctx
// ends.
func runBridge(ctx context.Context, cfg *configs.Config, b *bridge.Bridge, redisClient *redis.Client, logger logging.Logger) error {
	switch cfg.Bridge.Source {
	case configs.SourceRabbitMQ:
		rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URI, logger)
		if err != nil {
			return err
		}
		defer rabbit.Close()

		if err := rabbit.DeclareQueue(messaging.QueueOptions{
			Name:               cfg.RabbitMQ.Queue,
			Exchange:           cfg.RabbitMQ.Exchange,
			RoutingKeys:        cfg.RabbitMQ.RoutingKeys,
			DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
		}); err != nil {
			return err
		}

		err = rabbit.ConsumeMessages(ctx, cfg.RabbitMQ.Queue, messaging.AckMode(cfg.Bridge.AckMode), cfg.RabbitMQ.Prefetch, b.Handle)
		if errors.Is(err, messaging.ErrDeliveriesClosed) {
			return fmt.Errorf("rabbitmq consumer stopped: %w", err)
		}
		return err
	case configs.SourceRedis:
		return pubsub.NewSubscriber(redisClient, logger).Subscribe(ctx, cfg.Redis.Channel, b.Handle)
	default:
		logger.Info(logging.Bridge, logging.Startup, "no upstream source configured", nil)
		<-ctx.Done()
		return nil
	}
}
