package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	frameBufferSize  = 4 << 10
	defaultWriteWait = 10 * time.Second
)

var ErrNotOpen = errors.New("connection is not open")

type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Connection is one live websocket bound to a transport. Writes from any
// goroutine are serialized; reads belong to the goroutine serving it.
type Connection struct {
	transport Transport
	writeWait time.Duration

	state atomic.Int32

	writeMu  sync.Mutex
	teardown sync.Once

	buf []byte
	acc bytes.Buffer
}

type ConnectionOption func(*Connection)

func WithWriteWait(d time.Duration) ConnectionOption {
	return func(c *Connection) {
		if d > 0 {
			c.writeWait = d
		}
	}
}

func NewConnection(t Transport, opts ...ConnectionOption) *Connection {
	c := &Connection{
		transport: t,
		writeWait: defaultWriteWait,
		buf:       make([]byte, frameBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) IsOpen() bool {
	return c.State() == StateOpen
}

func (c *Connection) RemoteAddr() string {
	return c.transport.RemoteAddr()
}

func (c *Connection) Subprotocol() string {
	return c.transport.Subprotocol()
}

func (c *Connection) markClosing() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

// Send writes one text message. A failed write leaves the connection Closing
// so later lookups skip it.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsOpen() {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.IsOpen() {
		return ErrNotOpen
	}

	if err := c.transport.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		c.markClosing()
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.transport.WriteText(payload); err != nil {
		c.markClosing()
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Ping sends a keep-alive ping.
func (c *Connection) Ping() error {
	if !c.IsOpen() {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	if err := c.transport.WritePing(); err != nil {
		c.markClosing()
		return err
	}
	return nil
}

func (c *Connection) writeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// Teardown closes the connection with a normal-closure frame. Only the first
// call has any effect.
func (c *Connection) Teardown() {
	c.teardown.Do(func() {
		c.markClosing()

		c.writeMu.Lock()
		_ = c.transport.WriteClose(websocket.CloseNormalClosure, "")
		c.writeMu.Unlock()

		_ = c.transport.Close()
		c.state.Store(int32(StateClosed))
	})
}
