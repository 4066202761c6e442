// internal/client/conn.go
package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Conn is one open channel to the server.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens channels. Credentials travel with the dial.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ConnectivityObserver is supplied by the embedding environment. A value on
// Online means the network came back and a pending reconnect should not wait
// out its backoff.
type ConnectivityObserver interface {
	Online() <-chan struct{}
}

// WebsocketDialer dials url with the tablesync subprotocol. token, when set,
// is sent as a bearer credential.
type WebsocketDialer struct {
	URL    string
	Token  string
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = v
	}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	c, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader:   header,
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, protocol.Errorf(protocol.CodeAuth, "server refused credentials")
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if c.Subprotocol() != protocol.Subprotocol {
		c.Close(websocket.StatusPolicyViolation, "subprotocol not negotiated")
		return nil, fmt.Errorf("dial %s: server did not accept subprotocol %q", d.URL, protocol.Subprotocol)
	}
	return wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closing")
}
