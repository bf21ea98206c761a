package router

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hilthontt/notifygate/internal/domain"
	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
	"github.com/hilthontt/notifygate/internal/infrastructure/metrics"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
	"github.com/hilthontt/notifygate/internal/infrastructure/ws/wstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerA = "6f1d3a52-5d8e-4a43-9a0c-0c6c1b1f7a01"
	ownerB = "0b8e6f55-2f4c-4c58-8f7e-4a3f6a9d2b02"
)

type fixture struct {
	registry *ws.Registry
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNopLogger()
	m := metrics.New(prometheus.NewRegistry())
	reg := ws.NewRegistry(logger, m)
	return &fixture{
		registry: reg,
		router:   New(reg, ws.NewFanout(reg, logger, m, 8), logger, m),
	}
}

func (f *fixture) connect(t *testing.T, owner, addr string) (*ws.Connection, *wstest.Transport) {
	t.Helper()
	conn, tr := wstest.NewConn(addr)
	_, err := f.registry.Register(conn, owner)
	require.NoError(t, err)
	return conn, tr
}

func TestChatFromMerchantRelaysToPeersAndRecipient(t *testing.T) {
	f := newFixture(t)
	a1, a1Tr := f.connect(t, ownerA, "a1")
	_, a2Tr := f.connect(t, ownerA, "a2")
	_, b1Tr := f.connect(t, ownerB, "b1")

	data := `{"from":"` + ownerA + `","to":"` + ownerB + `","body":"hi","created":"..."}`
	f.router.Dispatch(context.Background(), `{"type":"chat_from_merchant","data":`+data+`}`, a1)

	want := `{"type":"chat","data":` + data + `}`
	require.Len(t, a2Tr.Messages(), 1)
	require.Len(t, b1Tr.Messages(), 1)
	assert.JSONEq(t, want, a2Tr.Messages()[0])
	assert.JSONEq(t, want, b1Tr.Messages()[0])
	assert.Empty(t, a1Tr.Messages())
}

func TestChatTypeMatchesCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.connect(t, ownerA, "a1")
	_, b1Tr := f.connect(t, ownerB, "b1")

	data := `{"from":"` + ownerA + `","to":"` + ownerB + `","body":"hi"}`
	f.router.Dispatch(context.Background(), `{"type":"CHAT_FROM_MERCHANT","data":`+data+`}`, a1)

	assert.Len(t, b1Tr.Messages(), 1)
}

func TestChatToOfflineRecipientStillReachesSenderPeers(t *testing.T) {
	f := newFixture(t)
	a1, a1Tr := f.connect(t, ownerA, "a1")
	_, a2Tr := f.connect(t, ownerA, "a2")

	data := `{"from":"` + ownerA + `","to":"` + ownerB + `","body":"anyone?"}`
	f.router.Dispatch(context.Background(), `{"type":"chat_from_merchant","data":`+data+`}`, a1)

	assert.Len(t, a2Tr.Messages(), 1)
	assert.Empty(t, a1Tr.Messages())
}

func TestChatRoutesOnCanonicalOwnerIDs(t *testing.T) {
	tests := []struct {
		name  string
		spell func(id string) string
	}{
		{name: "braced", spell: func(id string) string { return "{" + id + "}" }},
		{name: "urn", spell: func(id string) string { return "urn:uuid:" + id }},
		{name: "undashed", spell: func(id string) string { return strings.ReplaceAll(id, "-", "") }},
		{name: "padded", spell: func(id string) string { return "  " + id + " " }},
		{name: "upper case", spell: strings.ToUpper},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a1, a1Tr := f.connect(t, ownerA, "a1")
			_, a2Tr := f.connect(t, ownerA, "a2")
			_, b1Tr := f.connect(t, ownerB, "b1")

			data := `{"from":"` + tt.spell(ownerA) + `","to":"` + tt.spell(ownerB) + `","body":"hi"}`
			f.router.Dispatch(context.Background(), `{"type":"chat_from_merchant","data":`+data+`}`, a1)

			want := `{"type":"chat","data":` + data + `}`
			require.Len(t, b1Tr.Messages(), 1)
			require.Len(t, a2Tr.Messages(), 1)
			assert.JSONEq(t, want, b1Tr.Messages()[0])
			assert.Empty(t, a1Tr.Messages())
		})
	}
}

func TestDispatchDropsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "empty", raw: ``},
		{name: "missing type", raw: `{"data":{}}`},
		{name: "null data", raw: `{"type":"chat_from_merchant","data":null}`},
		{name: "unknown type", raw: `{"type":"bogus","data":{}}`},
		{name: "chat with bad ids", raw: `{"type":"chat_from_merchant","data":{"from":"A","to":"B","body":"hi"}}`},
		{name: "chat without body", raw: `{"type":"chat_from_merchant","data":{"from":"` + ownerA + `","to":"` + ownerB + `","body":""}}`},
		{name: "chat data not an object", raw: `{"type":"chat_from_merchant","data":"hi"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a1, a1Tr := f.connect(t, ownerA, "a1")
			_, a2Tr := f.connect(t, ownerA, "a2")
			_, b1Tr := f.connect(t, ownerB, "b1")

			f.router.Dispatch(context.Background(), tt.raw, a1)

			assert.Empty(t, a1Tr.Messages())
			assert.Empty(t, a2Tr.Messages())
			assert.Empty(t, b1Tr.Messages())
		})
	}
}

func TestHandleRegistersCustomType(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.connect(t, ownerA, "a1")

	var got domain.Envelope
	f.router.Handle("Typing", func(_ context.Context, env domain.Envelope, src *ws.Connection) error {
		assert.Same(t, a1, src)
		got = env
		return nil
	})

	f.router.Dispatch(context.Background(), `{"type":"typing","data":{"on":true}}`, a1)

	assert.Equal(t, "typing", got.Type)
	assert.JSONEq(t, `{"on":true}`, string(got.Data))
}

func TestHandlerErrorsDoNotEscape(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.connect(t, ownerA, "a1")

	f.router.Handle("fails", func(context.Context, domain.Envelope, *ws.Connection) error {
		return json.Unmarshal([]byte("{"), &struct{}{})
	})

	assert.NotPanics(t, func() {
		f.router.Dispatch(context.Background(), `{"type":"fails","data":{}}`, a1)
	})
}
