package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/reporting"
	"golang.org/x/time/rate"
)

const (
	defaultPongWait       = 120 * time.Second
	defaultMaxMessageSize = 1 << 20
)

// Dispatcher handles one complete inbound text message.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string, src *Connection)
}

type ListenerConfig struct {
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 1
	}
	return c
}

// Listener runs the receive loop of registered connections.
type Listener struct {
	registry   *Registry
	dispatcher Dispatcher
	logger     logging.Logger
	metrics    *metrics.Metrics
	reporter   reporting.Reporter
	cfg        ListenerConfig
}

func NewListener(registry *Registry, dispatcher Dispatcher, logger logging.Logger, m *metrics.Metrics, reporter reporting.Reporter, cfg ListenerConfig) *Listener {
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	return &Listener{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		reporter:   reporter,
		cfg:        cfg.withDefaults(),
	}
}

// Serve receives and dispatches messages from conn, one at a time and in
// arrival order, until ctx ends, the peer goes away, a read fails or a handler
// panics. The connection is unregistered and closed exactly once on return.
func (l *Listener) Serve(ctx context.Context, conn *Connection) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(logging.Websocket, logging.Recovery, "handler panicked", map[logging.ExtraKey]any{
				logging.RemoteAddr:   conn.RemoteAddr(),
				logging.ErrorMessage: fmt.Sprint(r),
			})
			l.reporter.CapturePanic(r, map[string]string{"component": "listener"})
			err = fmt.Errorf("recovered panic: %v", r)
		}
		cancel()
		wg.Wait()
		l.teardown(conn)
	}()

	t := conn.transport
	t.SetReadLimit(l.cfg.MaxMessageSize)
	if err := t.SetReadDeadline(time.Now().Add(l.cfg.PongWait)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	t.SetPongHandler(func() error {
		if ctx.Err() != nil {
			return nil
		}
		return t.SetReadDeadline(time.Now().Add(l.cfg.PongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(ctx, cancel, conn)
	}()

	var limiter *rate.Limiter
	if l.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(l.cfg.MessagesPerSecond), l.cfg.MessageBurst)
	}

	for {
		text, ok, err := ReceiveMessage(ctx, conn)
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil
			}
			l.logger.Warn(logging.Websocket, logging.Receive, "receive failed", map[logging.ExtraKey]any{
				logging.RemoteAddr:   conn.RemoteAddr(),
				logging.ErrorMessage: err.Error(),
			})
			l.reporter.CaptureError(err, map[string]string{"component": "listener"})
			return err
		}
		if !conn.IsOpen() {
			return nil
		}
		if !ok {
			l.metrics.Dropped(metrics.SourceClient, "binary")
			l.logger.Debug(logging.Websocket, logging.Receive, "binary message discarded", map[logging.ExtraKey]any{
				logging.RemoteAddr: conn.RemoteAddr(),
			})
			continue
		}

		l.metrics.Received(metrics.SourceClient)
		if limiter != nil && !limiter.Allow() {
			l.metrics.Dropped(metrics.SourceClient, "rate_limited")
			l.logger.Warn(logging.General, logging.RateLimiting, "inbound message rate exceeded", map[logging.ExtraKey]any{
				logging.RemoteAddr: conn.RemoteAddr(),
			})
			continue
		}

		l.dispatcher.Dispatch(ctx, text, conn)
	}
}

func (l *Listener) keepAlive(ctx context.Context, cancel context.CancelFunc, conn *Connection) {
	ticker := time.NewTicker(l.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				l.logger.Debug(logging.Websocket, logging.Disconnect, "ping failed", map[logging.ExtraKey]any{
					logging.RemoteAddr:   conn.RemoteAddr(),
					logging.ErrorMessage: err.Error(),
				})
				cancel()
				return
			}
		}
	}
}

func (l *Listener) teardown(conn *Connection) {
	id, _ := l.registry.IDOf(conn)
	owner, _ := l.registry.OwnerOf(conn)

	l.registry.Unregister(conn)
	conn.Teardown()

	l.logger.Info(logging.Websocket, logging.Disconnect, "connection closed", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
		logging.Owner:        owner,
		logging.RemoteAddr:   conn.RemoteAddr(),
	})
}
