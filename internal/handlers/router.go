// internal/handlers/router.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jason-s-yu/tablesync/internal/lobby"
	"github.com/jason-s-yu/tablesync/internal/middleware"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/server"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"github.com/sirupsen/logrus"
)

// Loop is the part of the server the edge talks to.
type Loop interface {
	Submit(ctx context.Context, cmd server.Command) error
	Lobbies(ctx context.Context) ([]lobby.Summary, error)
}

// Channels binds accepted connections to participants.
type Channels interface {
	Connect(pid string, conn transport.Conn) string
	DisconnectChannel(pid, channelID, reason string)
}

// Identifier authenticates a request before the upgrade.
type Identifier interface {
	Identify(r *http.Request) (models.Identity, error)
}

// Deps is everything the router needs.
type Deps struct {
	Loop     Loop
	Channels Channels
	Auth     Identifier
	Logger   *logrus.Logger

	// AllowedOrigins are websocket origin patterns; empty means same-origin only.
	AllowedOrigins []string
	// ReadLimit caps a single inbound frame in bytes. Zero keeps the library default.
	ReadLimit int64
	// InboundRate is frames per second per connection; zero disables limiting.
	InboundRate  float64
	InboundBurst int
}

// NewRouter mounts the websocket endpoint, lobby listing and health check.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(d.Logger))

	r.Get("/healthz", Healthz)
	r.Get("/lobbies", ListLobbiesHandler(d.Loop, d.Logger))
	r.Get("/ws", WSHandler(d))
	return r
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListLobbiesHandler returns a JSON snapshot of every lobby.
func ListLobbiesHandler(loop Loop, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := loop.Lobbies(r.Context())
		if err != nil {
			logger.Warnf("lobby listing failed: %v", err)
			http.Error(w, "server unavailable", http.StatusServiceUnavailable)
			return
		}
		if summaries == nil {
			summaries = []lobby.Summary{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summaries); err != nil {
			logger.Warnf("failed to encode lobby listing: %v", err)
		}
	}
}
