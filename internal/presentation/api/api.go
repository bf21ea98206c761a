package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/notifygate/internal/infrastructure/configs"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/notifygate/internal/infrastructure/tracing"
	healthHandler "github.com/hilthontt/notifygate/internal/presentation/handler/health"
	notificationsHandler "github.com/hilthontt/notifygate/internal/presentation/handler/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Application struct {
	config               configs.Config
	healthHandler        *healthHandler.Handler
	notificationsHandler *notificationsHandler.Handler
	logger               logging.Logger
	ratelimiter          ratelimiter.Limiter
	metrics              *metrics.Metrics
	gatherer             prometheus.Gatherer
}

func NewApplication(
	config configs.Config,
	healthHandler *healthHandler.Handler,
	notificationsHandler *notificationsHandler.Handler,
	logger logging.Logger,
	ratelimiter ratelimiter.Limiter,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
) *Application {
	return &Application{
		config:               config,
		healthHandler:        healthHandler,
		notificationsHandler: notificationsHandler,
		logger:               logger,
		ratelimiter:          ratelimiter,
		metrics:              m,
		gatherer:             gatherer,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.loggerMiddleware)
	r.Use(app.prometheusMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(app.enableCors)

	// The upgrade route stays outside the timeout middleware, its handler
	// lives as long as the connection does.
	r.With(app.rateLimiterMiddleware).Get(app.config.WS.Path, app.notificationsHandler.ConnectHandler)

	if app.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(app.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/health", app.healthHandler.GetHealth)
		r.Get("/healthz", app.healthHandler.GetHealth)
		r.Get("/ready", app.healthHandler.GetHealth)
		r.Get("/live", app.healthHandler.GetHealth)
	})

	wsPath := app.config.WS.Path
	return otelhttp.NewHandler(r, tracing.InstrumentationName,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != wsPath
		}),
	)
}

// Run serves until ctx is cancelled, then shuts the server down. Request
// contexts derive from ctx so long-lived websocket handlers end with it.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         app.config.Addr(),
		Handler:      mux,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		IdleTimeout:  time.Minute,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "shutting down http server", map[logging.ExtraKey]any{
			logging.HostIp: srv.Addr,
		})

		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		logging.HostIp: srv.Addr,
	})

	return nil
}
