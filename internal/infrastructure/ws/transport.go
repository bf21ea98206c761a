package ws

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by ReadFrame once the peer has closed the
// transport, either with a close frame or by dropping the stream.
var ErrTransportClosed = errors.New("transport closed")

type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

func (k FrameKind) String() string {
	if k == FrameBinary {
		return "binary"
	}
	return "text"
}

// Frame describes one chunk read into the caller's buffer.
type Frame struct {
	Kind  FrameKind
	N     int
	Final bool
}

// Transport is the framed, bidirectional stream a Connection runs on.
// ReadFrame is called by one goroutine at a time. Writes are serialized by
// the owning Connection.
type Transport interface {
	ReadFrame(buf []byte) (Frame, error)
	WriteText(data []byte) error
	WriteClose(code int, reason string) error
	WritePing() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func() error)
	Close() error
	RemoteAddr() string
	Subprotocol() string
}

type gorillaTransport struct {
	conn *websocket.Conn

	reader io.Reader
	kind   FrameKind
}

// NewGorillaTransport adapts a gorilla connection. Each read from the current
// message reader becomes one frame; the frame that hits the end of the
// message is flagged final.
func NewGorillaTransport(conn *websocket.Conn) Transport {
	return &gorillaTransport{conn: conn}
}

func (t *gorillaTransport) ReadFrame(buf []byte) (Frame, error) {
	if t.reader == nil {
		messageType, r, err := t.conn.NextReader()
		if err != nil {
			return Frame{}, mapReadError(err)
		}
		t.reader = r
		t.kind = FrameText
		if messageType == websocket.BinaryMessage {
			t.kind = FrameBinary
		}
	}

	n, err := t.reader.Read(buf)
	switch {
	case errors.Is(err, io.EOF):
		t.reader = nil
		return Frame{Kind: t.kind, N: n, Final: true}, nil
	case err != nil:
		t.reader = nil
		return Frame{}, mapReadError(err)
	}

	return Frame{Kind: t.kind, N: n}, nil
}

func mapReadError(err error) error {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return errors.Join(ErrTransportClosed, err)
	}
	return err
}

func (t *gorillaTransport) WriteText(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *gorillaTransport) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (t *gorillaTransport) WritePing() error {
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *gorillaTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *gorillaTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *gorillaTransport) SetReadLimit(limit int64) {
	t.conn.SetReadLimit(limit)
}

func (t *gorillaTransport) SetPongHandler(h func() error) {
	t.conn.SetPongHandler(func(string) error { return h() })
}

func (t *gorillaTransport) Close() error {
	return t.conn.Close()
}

func (t *gorillaTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *gorillaTransport) Subprotocol() string {
	return t.conn.Subprotocol()
}
