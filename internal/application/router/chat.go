package router

import (
	"context"

	"github.com/hilthontt/notifygate/internal/domain"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
)

// handleChatFromMerchant relays the chat data unchanged to every open
// connection of the recipient and of the sender, except the sending one.
func (r *Router) handleChatFromMerchant(ctx context.Context, env domain.Envelope, src *ws.Connection) error {
	msg, err := domain.DecodeChatMessage(env.Data)
	if err != nil || !msg.Valid() {
		r.metrics.Dropped(metrics.SourceClient, "invalid_chat")
		r.logger.Warn(logging.Router, logging.Decode, "dropping invalid chat message", map[logging.ExtraKey]any{
			logging.RemoteAddr: src.RemoteAddr(),
		})
		return nil
	}

	from, to, err := msg.Owners()
	if err != nil {
		return err
	}

	payload, err := domain.NewChat(env.Data).Encode()
	if err != nil {
		return err
	}

	res := r.fanout.SendToOwners(ctx, []string{to, from}, payload, []*ws.Connection{src}, nil)

	sender, _ := r.registry.OwnerOf(src)
	r.logger.Debug(logging.Router, logging.Delivery, "chat relayed", map[logging.ExtraKey]any{
		logging.Recipient: to,
		logging.Owner:     from,
		logging.Sender:    sender,
		logging.Attempted: res.Attempted,
		logging.Delivered: res.Delivered,
		logging.Failed:    res.Failed,
	})
	if res.Cancelled() {
		return ctx.Err()
	}
	return nil
}
