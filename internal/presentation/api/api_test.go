package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/notifygate/internal/application/router"
	"github.com/hilthontt/notifygate/internal/infrastructure/configs"
	"github.com/hilthontt/notifygate/internal/infrastructure/identity"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/notifygate/internal/presentation/handler/health"
	notificationsHandler "github.com/hilthontt/notifygate/internal/presentation/handler/notifications"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerA = "6f1d3a52-5d8e-4a43-9a0c-0c6c1b1f7a01"
	ownerB = "0b8e6f55-2f4c-4c58-8f7e-4a3f6a9d2b02"
)

type testServer struct {
	srv      *httptest.Server
	registry *ws.Registry
}

func newTestServer(t *testing.T, limits ratelimiter.Options) *testServer {
	t.Helper()

	cfg := configs.Config{
		WS: configs.WSConfig{Path: "/ws", TokenParam: "owner"},
	}
	logger := logging.NewNopLogger()
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	reg := ws.NewRegistry(logger, m)
	t.Cleanup(reg.Close)
	fanout := ws.NewFanout(reg, logger, m, 8)
	listener := ws.NewListener(reg, router.New(reg, fanout, logger, m), logger, m, nil, ws.ListenerConfig{})

	notifications := notificationsHandler.NewHandler(
		ws.NewUpgrader(ws.UpgraderConfig{}),
		identity.TokenIsOwner{Strict: true},
		reg, listener, logger, nil, cfg.WS.TokenParam,
	)

	app := NewApplication(cfg, healthHandler.NewHandler(reg), notifications, logger, ratelimiter.New(limits), m, promRegistry)

	srv := httptest.NewServer(app.Mount())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, registry: reg}
}

func (s *testServer) dial(t *testing.T, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?owner=" + owner
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 10})

	for _, path := range []string{"/api/health", "/api/healthz", "/api/ready", "/api/live"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(s.srv.URL + path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 10})

	resp, err := http.Get(s.srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()

	// Requests are observed after the handler returns, so poll the scrape.
	assert.Eventually(t, func() bool {
		resp, err := http.Get(s.srv.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), "notifygate_http_requests_total")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPreflightRequest(t *testing.T) {
	s := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 10})

	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://shop.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUpgradeIsRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 1, MaxBurst: 1})

	s.dial(t, ownerA)

	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?owner=" + ownerB
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
}

func TestChatRelayEndToEnd(t *testing.T) {
	s := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 100, MaxBurst: 10})

	merchant := s.dial(t, ownerA)
	customer := s.dial(t, ownerB)
	require.Eventually(t, func() bool { return s.registry.Len() == 2 }, time.Second, 5*time.Millisecond)

	data := `{"from":"` + ownerA + `","to":"` + ownerB + `","body":"your order shipped"}`
	require.NoError(t, merchant.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_from_merchant","data":`+data+`}`)))

	require.NoError(t, customer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := customer.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","data":`+data+`}`, string(got))
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	cfg := configs.Config{
		HTTP: configs.HTTPConfig{Host: "127.0.0.1", Port: 0},
		WS:   configs.WSConfig{Path: "/ws"},
	}
	app := NewApplication(cfg, healthHandler.NewHandler(ws.NewRegistry(logging.NewNopLogger(), nil)), nil,
		logging.NewNopLogger(), ratelimiter.New(ratelimiter.Options{MaxRatePerSecond: 1}), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
