// internal/handlers/ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/tablesync/internal/middleware"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/jason-s-yu/tablesync/internal/server"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"golang.org/x/time/rate"
)

// ReasonConnectionLost is reported when a read pump ends without a clean close.
const ReasonConnectionLost = "connection_lost"

// detachTimeout bounds the final Detached submit after the request context is gone.
const detachTimeout = 5 * time.Second

// WSHandler authenticates, upgrades, and then pumps inbound frames into the
// server loop. Writes go through the transport manager, never this goroutine.
func WSHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := d.Auth.Identify(r)
		if err != nil {
			d.Logger.Warnf("websocket auth failed from %s: %v", r.RemoteAddr, err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{protocol.Subprotocol},
			OriginPatterns: d.AllowedOrigins,
		})
		if err != nil {
			d.Logger.Warnf("websocket accept error: %v", err)
			return
		}
		if c.Subprotocol() != protocol.Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the tablesync subprotocol")
			return
		}
		if d.ReadLimit > 0 {
			c.SetReadLimit(d.ReadLimit)
		}

		pid := identity.ParticipantID
		channelID := d.Channels.Connect(pid, transport.WebsocketConn(c))
		middleware.LogWebSocketConnect(d.Logger, r.RemoteAddr, pid, channelID)

		if err := d.Loop.Submit(r.Context(), server.Connected(identity, channelID)); err != nil {
			d.Channels.DisconnectChannel(pid, channelID, transport.ReasonShutdown)
			c.Close(ServerStoppingError, "server is shutting down")
			middleware.LogWebSocketDisconnect(d.Logger, r.RemoteAddr, pid, channelID, err)
			return
		}

		var limiter *rate.Limiter
		if d.InboundRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(d.InboundRate), max(d.InboundBurst, 1))
		}
		readErr := readPump(r.Context(), c, d.Loop, limiter, identity, channelID)
		reason := closeReason(readErr)

		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		if err := d.Loop.Submit(ctx, server.Detached(pid, channelID, reason)); err != nil && !errors.Is(err, server.ErrStopped) {
			d.Logger.Warnf("failed to report detach of %s: %v", pid, err)
		}
		d.Channels.DisconnectChannel(pid, channelID, reason)
		middleware.LogWebSocketDisconnect(d.Logger, r.RemoteAddr, pid, channelID, readErr)
	}
}

// readPump blocks until the connection fails or the loop stops. It is also the
// concurrent reader that lets heartbeat pings see their pongs. A limiter, when
// set, slows a flooding client down instead of dropping its frames.
func readPump(ctx context.Context, c *websocket.Conn, loop Loop, limiter *rate.Limiter, identity models.Identity, channelID string) error {
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		if err := loop.Submit(ctx, server.Inbound(identity.ParticipantID, channelID, data)); err != nil {
			return err
		}
	}
}

func closeReason(err error) string {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return transport.ReasonClientBye
	}
	return ReasonConnectionLost
}
