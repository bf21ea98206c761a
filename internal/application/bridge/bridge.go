package bridge

import (
	"context"
	"fmt"

	"github.com/hilthontt/notifygate/internal/domain"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/tracing"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Bridge turns upstream queue messages into websocket deliveries.
type Bridge struct {
	fanout  *ws.Fanout
	logger  logging.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(fanout *ws.Fanout, logger logging.Logger, m *metrics.Metrics) *Bridge {
	return &Bridge{
		fanout:  fanout,
		logger:  logger,
		metrics: m,
		tracer:  tracing.GetTracer(tracing.InstrumentationName),
	}
}

// Handle routes one upstream message. Notifications go to every open
// connection of the recipient; any other type is broadcast to everyone as an
// error envelope. Malformed bodies are dropped and reported as handled.
//
// The only error returned is cancellation before every recipient was tried,
// so the source can redeliver.
func (b *Bridge) Handle(ctx context.Context, body []byte) error {
	ctx, span := b.tracer.Start(ctx, "bridge.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	b.metrics.Received(metrics.SourceUpstream)

	evt, err := domain.DecodeUpstreamEvent(body)
	if err != nil {
		b.drop("decode", "failed to decode upstream message", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return nil
	}
	span.SetAttributes(attribute.String("message.type", evt.Type))

	if !evt.Valid() {
		b.drop("invalid", "invalid upstream message", map[logging.ExtraKey]any{
			logging.MessageType: evt.Type,
		})
		return nil
	}

	var (
		res ws.Result
		out []byte
	)

	if evt.Is(domain.TypeNotification) {
		out, err = domain.NewNotification(evt.Data).Encode()
		if err != nil {
			return b.encodeFailed(err)
		}
		res = b.fanout.SendToOwner(ctx, domain.CanonicalOwner(evt.Recipient), out)
	} else {
		b.logger.Warn(logging.Bridge, logging.Dispatch, fmt.Sprintf("no handler for type %s", evt.Type), map[logging.ExtraKey]any{
			logging.MessageType: evt.Type,
			logging.Recipient:   evt.Recipient,
		})

		env, err := domain.NewError(fmt.Sprintf("no handler for type %s", evt.Type), evt.Data)
		if err != nil {
			return b.encodeFailed(err)
		}
		if out, err = env.Encode(); err != nil {
			return b.encodeFailed(err)
		}
		res = b.fanout.BroadcastAll(ctx, out, nil, nil)
	}

	b.logger.Debug(logging.Bridge, logging.Delivery, "upstream message delivered", map[logging.ExtraKey]any{
		logging.MessageType: evt.Type,
		logging.Recipient:   evt.Recipient,
		logging.Attempted:   res.Attempted,
		logging.Delivered:   res.Delivered,
		logging.Failed:      res.Failed,
	})

	if res.Cancelled() {
		return fmt.Errorf("fan-out interrupted after %d of %d recipients: %w", res.Attempted, res.Attempted+res.Skipped, context.Cause(ctx))
	}
	return nil
}

func (b *Bridge) drop(reason, msg string, extra map[logging.ExtraKey]any) {
	b.metrics.Dropped(metrics.SourceUpstream, reason)
	b.logger.Warn(logging.Bridge, logging.Decode, msg, extra)
}

// encodeFailed logs an outbound encoding failure. Retrying cannot help, so
// the message counts as handled.
func (b *Bridge) encodeFailed(err error) error {
	b.drop("encode", "failed to encode outbound message", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	return nil
}
