package notifications

import (
	"errors"
	"net/http"

	"github.com/hilthontt/notifygate/internal/infrastructure/identity"
	"github.com/hilthontt/notifygate/internal/infrastructure/json"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/reporting"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
)

type Handler struct {
	upgrader   *ws.Upgrader
	resolver   identity.Resolver
	registry   *ws.Registry
	listener   *ws.Listener
	logger     logging.Logger
	reporter   reporting.Reporter
	tokenParam string
}

func NewHandler(
	upgrader *ws.Upgrader,
	resolver identity.Resolver,
	registry *ws.Registry,
	listener *ws.Listener,
	logger logging.Logger,
	reporter reporting.Reporter,
	tokenParam string,
) *Handler {
	if reporter == nil {
		reporter = reporting.Nop{}
	}
	return &Handler{
		upgrader:   upgrader,
		resolver:   resolver,
		registry:   registry,
		listener:   listener,
		logger:     logger,
		reporter:   reporter,
		tokenParam: tokenParam,
	}
}

// ConnectHandler resolves the owner from the query token, upgrades, registers
// the connection and serves it until it ends. Requests without a resolvable
// owner are refused before the upgrade.
func (h *Handler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(h.tokenParam)

	owner, err := h.resolver.ResolveOwner(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownToken) {
			h.logger.Warn(logging.Websocket, logging.Connect, "rejected connection without a valid owner", map[logging.ExtraKey]any{
				logging.RemoteAddr: r.RemoteAddr,
			})
			json.WriteUnauthorized(w, "missing or unknown owner token")
			return
		}
		h.logger.Error(logging.Websocket, logging.Connect, "owner lookup failed", map[logging.ExtraKey]any{
			logging.RemoteAddr:   r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		h.logger.Warn(logging.Websocket, logging.Connect, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.RemoteAddr:   r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if _, err := h.registry.Register(conn, owner); err != nil {
		h.logger.Error(logging.Registry, logging.Conflict, "connection registration refused", map[logging.ExtraKey]any{
			logging.Owner:        owner,
			logging.RemoteAddr:   conn.RemoteAddr(),
			logging.ErrorMessage: err.Error(),
		})
		h.reporter.CaptureError(err, map[string]string{"component": "registry"})
		conn.Teardown()
		return
	}

	id, _ := h.registry.IDOf(conn)
	h.logger.Info(logging.Websocket, logging.Connect, "connection opened", map[logging.ExtraKey]any{
		logging.ConnectionID: id,
		logging.Owner:        owner,
		logging.RemoteAddr:   conn.RemoteAddr(),
	})

	_ = h.listener.Serve(r.Context(), conn)
}
