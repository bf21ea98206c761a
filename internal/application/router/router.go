package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hilthontt/notifygate/internal/domain"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/tracing"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandlerFunc handles one decoded, valid envelope received from src.
type HandlerFunc func(ctx context.Context, env domain.Envelope, src *ws.Connection) error

// Router dispatches inbound client messages to handlers keyed by envelope
// type. Type lookup ignores case.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	registry *ws.Registry
	fanout   *ws.Fanout
	logger   logging.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func New(registry *ws.Registry, fanout *ws.Fanout, logger logging.Logger, m *metrics.Metrics) *Router {
	r := &Router{
		handlers: make(map[string]HandlerFunc),
		registry: registry,
		fanout:   fanout,
		logger:   logger,
		metrics:  m,
		tracer:   tracing.GetTracer(tracing.InstrumentationName),
	}

	r.Handle(domain.TypeChatFromMerchant, r.handleChatFromMerchant)

	return r
}

// Handle registers h for msgType, replacing any previous handler.
func (r *Router) Handle(msgType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.ToLower(strings.TrimSpace(msgType))] = h
}

func (r *Router) lookup(msgType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[strings.ToLower(strings.TrimSpace(msgType))]
	return h, ok
}

// Dispatch decodes raw and runs the matching handler. Malformed, invalid and
// unroutable messages are logged and dropped; nothing is sent back to src.
func (r *Router) Dispatch(ctx context.Context, raw string, src *ws.Connection) {
	ctx, span := r.tracer.Start(ctx, "router.Dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	env, err := domain.DecodeEnvelope([]byte(raw))
	if err != nil {
		r.drop(span, "decode", "failed to decode message", map[logging.ExtraKey]any{
			logging.RemoteAddr:   src.RemoteAddr(),
			logging.ErrorMessage: err.Error(),
		})
		return
	}
	span.SetAttributes(attribute.String("message.type", env.Type))

	if !env.Valid() {
		r.drop(span, "invalid", "invalid message", map[logging.ExtraKey]any{
			logging.RemoteAddr:  src.RemoteAddr(),
			logging.MessageType: env.Type,
		})
		return
	}

	handler, ok := r.lookup(env.Type)
	if !ok {
		r.drop(span, "unknown_type", fmt.Sprintf("no handler for type %s", env.Type), map[logging.ExtraKey]any{
			logging.RemoteAddr:  src.RemoteAddr(),
			logging.MessageType: env.Type,
		})
		return
	}

	if err := handler(ctx, env, src); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn(logging.Router, logging.Dispatch, "handler failed", map[logging.ExtraKey]any{
			logging.MessageType:  env.Type,
			logging.RemoteAddr:   src.RemoteAddr(),
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (r *Router) drop(span trace.Span, reason, msg string, extra map[logging.ExtraKey]any) {
	span.SetAttributes(attribute.String("message.dropped", reason))
	r.metrics.Dropped(metrics.SourceClient, reason)
	r.logger.Warn(logging.Router, logging.Dispatch, msg, extra)
}
