// internal/transport/conn.go
package transport

import (
	"context"

	"github.com/coder/websocket"
)

// Conn is the byte pipe under a channel. The websocket adapter is the
// production implementation; tests use fakes.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Close reasons, also used as websocket close reasons.
const (
	ReasonReplaced   = "replaced"
	ReasonDead       = "heartbeat_timeout"
	ReasonTimeout    = "inactivity_timeout"
	ReasonWriteError = "write_error"
	ReasonShutdown   = "shutdown"
	ReasonClientBye  = "disconnect"
)

// Custom websocket close codes, continuing the 3000 range used at the edge.
const (
	StatusReplaced  websocket.StatusCode = 3100
	StatusDead      websocket.StatusCode = 3101
	StatusTimedOut  websocket.StatusCode = 3102
	StatusWriteFail websocket.StatusCode = 3103
)

type wsConn struct {
	c *websocket.Conn
}

// WebsocketConn adapts an accepted or dialed websocket connection. Ping needs
// a concurrent reader on c, which the edge read pump provides.
func WebsocketConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(closeStatus(reason), reason)
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case ReasonReplaced:
		return StatusReplaced
	case ReasonDead:
		return StatusDead
	case ReasonTimeout:
		return StatusTimedOut
	case ReasonWriteError:
		return StatusWriteFail
	case ReasonShutdown:
		return websocket.StatusGoingAway
	}
	return websocket.StatusNormalClosure
}
