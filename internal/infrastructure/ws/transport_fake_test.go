package ws

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hilthontt/notifygate/internal/infrastructure/logging"
)

type scriptedFrame struct {
	kind  FrameKind
	data  []byte
	final bool
	err   error
}

// fakeTransport plays back scripted frames and records what is written.
type fakeTransport struct {
	frames  chan scriptedFrame
	expired chan struct{}
	expire  sync.Once

	mu         sync.Mutex
	written    [][]byte
	closeCodes []int
	pings      int
	closeCalls int
	readLimit  int64
	pong       func() error
	writeErr   error

	inFlight   atomic.Int32
	overlapped atomic.Bool

	addr string
}

func newFakeTransport(addr string) *fakeTransport {
	return &fakeTransport{
		frames:  make(chan scriptedFrame, 64),
		expired: make(chan struct{}),
		addr:    addr,
	}
}

func newTestConnection(addr string) (*Connection, *fakeTransport) {
	t := newFakeTransport(addr)
	return NewConnection(t), t
}

func (t *fakeTransport) text(data string) {
	t.frames <- scriptedFrame{kind: FrameText, data: []byte(data), final: true}
}

func (t *fakeTransport) push(kind FrameKind, data string, final bool) {
	t.frames <- scriptedFrame{kind: kind, data: []byte(data), final: final}
}

func (t *fakeTransport) fail(err error) {
	t.frames <- scriptedFrame{err: err}
}

// hangUp makes every later read report a closed transport.
func (t *fakeTransport) hangUp() {
	close(t.frames)
}

func (t *fakeTransport) ReadFrame(buf []byte) (Frame, error) {
	select {
	case f, ok := <-t.frames:
		if !ok {
			return Frame{}, ErrTransportClosed
		}
		if f.err != nil {
			return Frame{}, f.err
		}
		n := copy(buf, f.data)
		return Frame{Kind: f.kind, N: n, Final: f.final}, nil
	case <-t.expired:
		return Frame{}, os.ErrDeadlineExceeded
	}
}

func (t *fakeTransport) WriteText(data []byte) error {
	if t.inFlight.Add(1) > 1 {
		t.overlapped.Store(true)
	}
	defer t.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	t.written = append(t.written, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) WriteClose(code int, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCodes = append(t.closeCodes, code)
	return nil
}

func (t *fakeTransport) WritePing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
	return nil
}

func (t *fakeTransport) SetReadDeadline(d time.Time) error {
	if !d.IsZero() && !d.After(time.Now()) {
		t.expire.Do(func() { close(t.expired) })
	}
	return nil
}

func (t *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *fakeTransport) SetReadLimit(limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readLimit = limit
}

func (t *fakeTransport) SetPongHandler(h func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pong = h
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	return nil
}

func (t *fakeTransport) RemoteAddr() string  { return t.addr }
func (t *fakeTransport) Subprotocol() string { return "" }

func (t *fakeTransport) failWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

func (t *fakeTransport) messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.written))
	for _, w := range t.written {
		out = append(out, string(w))
	}
	return out
}

func (t *fakeTransport) closes() (codes []int, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.closeCodes...), t.closeCalls
}

var errBrokenPipe = errors.New("broken pipe")

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(logging.NewNopLogger(), nil)
}
