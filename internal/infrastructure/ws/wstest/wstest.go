// Package wstest provides an in-memory ws.Transport for tests of code that
// sends to connections.
package wstest

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/hilthontt/notifygate/internal/infrastructure/ws"
)

// Transport records every text message written to it. Reads block until a
// message is queued with Push, the transport is closed, or the read deadline
// passes.
type Transport struct {
	addr    string
	inbound chan string
	done    chan struct{}
	expired chan struct{}

	closeOnce  sync.Once
	expireOnce sync.Once

	mu      sync.Mutex
	written []string
	failing error

	// rest of a pushed message that did not fit the last read buffer
	pending string
	partial bool
}

func NewTransport(addr string) *Transport {
	return &Transport{
		addr:    addr,
		inbound: make(chan string, 16),
		done:    make(chan struct{}),
		expired: make(chan struct{}),
	}
}

// NewConn returns an open connection backed by a new Transport.
func NewConn(addr string) (*ws.Connection, *Transport) {
	t := NewTransport(addr)
	return ws.NewConnection(t), t
}

// Push queues one complete inbound text message. A message longer than the
// reader's buffer is delivered as several frames, only the last one final.
func (t *Transport) Push(msg string) {
	t.inbound <- msg
}

// FailWrites makes every later write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing = err
}

// Messages returns the text messages written so far.
func (t *Transport) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.written...)
}

func (t *Transport) ReadFrame(buf []byte) (ws.Frame, error) {
	if t.partial {
		return t.nextFrame(buf, t.pending), nil
	}

	select {
	case msg := <-t.inbound:
		return t.nextFrame(buf, msg), nil
	case <-t.done:
		return ws.Frame{}, ws.ErrTransportClosed
	case <-t.expired:
		return ws.Frame{}, os.ErrDeadlineExceeded
	}
}

func (t *Transport) nextFrame(buf []byte, msg string) ws.Frame {
	n := copy(buf, msg)
	t.pending = msg[n:]
	t.partial = t.pending != ""
	return ws.Frame{Kind: ws.FrameText, N: n, Final: !t.partial}
}

func (t *Transport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failing != nil {
		return t.failing
	}
	t.written = append(t.written, string(data))
	return nil
}

func (t *Transport) WriteClose(int, string) error {
	select {
	case <-t.done:
		return errors.New("wstest: transport closed")
	default:
		return nil
	}
}

func (t *Transport) WritePing() error { return nil }

func (t *Transport) SetReadDeadline(d time.Time) error {
	if !d.IsZero() && !d.After(time.Now()) {
		t.expireOnce.Do(func() { close(t.expired) })
	}
	return nil
}

func (t *Transport) SetWriteDeadline(time.Time) error { return nil }
func (t *Transport) SetReadLimit(int64)               {}
func (t *Transport) SetPongHandler(func() error)      {}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) RemoteAddr() string  { return t.addr }
func (t *Transport) Subprotocol() string { return "" }

var _ ws.Transport = (*Transport)(nil)
