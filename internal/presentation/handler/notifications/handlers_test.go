package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/notifygate/internal/infrastructure/identity"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "6f1d3a52-5d8e-4a43-9a0c-0c6c1b1f7a01"

type resolverFunc func(ctx context.Context, token string) (string, error)

func (f resolverFunc) ResolveOwner(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, raw string, src *ws.Connection) {
	_ = src.Send(ctx, []byte(raw))
}

func newHandler(t *testing.T, resolver identity.Resolver) (*Handler, *ws.Registry) {
	t.Helper()
	logger := logging.NewNopLogger()
	reg := ws.NewRegistry(logger, nil)
	t.Cleanup(reg.Close)

	listener := ws.NewListener(reg, echoDispatcher{}, logger, nil, nil, ws.ListenerConfig{})
	upgrader := ws.NewUpgrader(ws.UpgraderConfig{})
	return NewHandler(upgrader, resolver, reg, listener, logger, nil, "owner"), reg
}

func TestConnectRejectsUnknownOwner(t *testing.T) {
	h, reg := newHandler(t, identity.TokenIsOwner{Strict: true})

	rec := httptest.NewRecorder()
	h.ConnectHandler(rec, httptest.NewRequest(http.MethodGet, "/ws?owner=not-a-uuid", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, reg.Len())
}

func TestConnectRejectsMissingOwner(t *testing.T) {
	h, _ := newHandler(t, identity.TokenIsOwner{})

	rec := httptest.NewRecorder()
	h.ConnectHandler(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConnectReportsResolverFailure(t *testing.T) {
	h, _ := newHandler(t, resolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("store unavailable")
	}))

	rec := httptest.NewRecorder()
	h.ConnectHandler(rec, httptest.NewRequest(http.MethodGet, "/ws?owner=x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConnectRegistersAndServes(t *testing.T) {
	h, reg := newHandler(t, identity.TokenIsOwner{Strict: true})
	srv := httptest.NewServer(http.HandlerFunc(h.ConnectHandler))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?owner=" + strings.ToUpper(owner)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, reg.ConnectionsOf(owner), 1)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping?")))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping?", string(data))

	require.NoError(t, client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
