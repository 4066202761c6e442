// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom WebSocket close codes used by the edge before a channel exists.
// Codes past that point live in the transport package (3100 and up).
const (
	BadSubprotocolError   websocket.StatusCode = 3000 // Client did not negotiate the tablesync subprotocol.
	InvalidAuthTokenError websocket.StatusCode = 3001 // Token rejected after the upgrade (normally a 401 is sent instead).
	ServerStoppingError   websocket.StatusCode = 3002 // The server loop is no longer accepting participants.
)
