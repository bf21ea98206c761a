package ws

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type UpgraderConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	AllowedOrigins   []string
}

// Upgrader turns HTTP requests into Connections. Any requested sub-protocol
// is accepted; the first one offered is echoed back.
type Upgrader struct {
	upgrader  websocket.Upgrader
	writeWait time.Duration
}

func NewUpgrader(cfg UpgraderConfig) *Upgrader {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}

	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowed, r)
			},
		},
		writeWait: cfg.WriteWait,
	}
}

func originAllowed(allowed map[string]struct{}, r *http.Request) bool {
	if len(allowed) == 0 {
		return true
	}
	if _, ok := allowed["*"]; ok {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

// Upgrade completes the handshake. On failure gorilla has already written an
// HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	var header http.Header
	if protocols := websocket.Subprotocols(r); len(protocols) > 0 {
		header = http.Header{"Sec-Websocket-Protocol": {protocols[0]}}
	}

	conn, err := u.upgrader.Upgrade(w, r, header)
	if err != nil {
		return nil, err
	}
	return NewConnection(NewGorillaTransport(conn), WithWriteWait(u.writeWait)), nil
}
