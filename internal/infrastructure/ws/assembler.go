package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrCancelled = errors.New("receive cancelled")

// ReceiveMessage reads frames until a complete message has arrived and returns
// it as text. ok is false, with a nil error, when the message was binary or
// when the peer closed the transport; in the latter case the connection is
// left Closing. Invalid UTF-8 is replaced with U+FFFD.
//
// Only one goroutine may receive on a connection at a time.
func ReceiveMessage(ctx context.Context, c *Connection) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, cancelled(ctx)
	}

	// Unblock a pending read when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = c.transport.SetReadDeadline(time.Now())
	})
	defer stop()

	c.acc.Reset()
	binary := false

	for {
		frame, err := c.transport.ReadFrame(c.buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", false, cancelled(ctx)
			}
			if errors.Is(err, ErrTransportClosed) {
				c.markClosing()
				return "", false, nil
			}
			return "", false, err
		}

		if frame.Kind == FrameBinary {
			binary = true
			c.acc.Reset()
		}
		if !binary {
			c.acc.Write(c.buf[:frame.N])
		}
		if frame.Final {
			break
		}
	}

	if binary {
		return "", false, nil
	}
	return strings.ToValidUTF8(c.acc.String(), "\uFFFD"), true, nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
