// internal/server/server.go
package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jason-s-yu/tablesync/internal/lobby"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/jason-s-yu/tablesync/internal/replay"
	"github.com/jason-s-yu/tablesync/internal/session"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned by Submit once the loop has exited.
var ErrStopped = errors.New("server loop stopped")

// Config holds the loop rate and the timeouts it enforces.
type Config struct {
	TickRate           time.Duration
	ParticipantTimeout time.Duration
	TurnTimeout        time.Duration
	LobbyIdleTimeout   time.Duration
	StartCountdown     time.Duration
	InboxSize          int
}

func DefaultConfig() Config {
	return Config{
		TickRate:           time.Second / 60,
		ParticipantTimeout: 30 * time.Second,
		TurnTimeout:        30 * time.Second,
		LobbyIdleTimeout:   5 * time.Minute,
		StartCountdown:     lobby.DefaultCountdown,
		InboxSize:          1024,
	}
}

// Transport is what the server needs from the transport manager.
type Transport interface {
	Send(pid string, env protocol.Envelope) transport.SendResult
	Broadcast(lobbyID string, env protocol.Envelope, exclude ...string) map[string]transport.SendResult
	Subscribe(lobbyID, pid string)
	Unsubscribe(lobbyID, pid string)
	DropLobby(lobbyID string)
	DisconnectChannel(pid, channelID, reason string)
	Latency(pid string) time.Duration
	Jitter(pid string) time.Duration
	Quality(pid string) transport.Quality
}

// Server is the authoritative loop. Every lobby, session, sequence counter
// and game state is owned by the goroutine running Run; everything else talks
// to it through Submit.
type Server struct {
	cfg       Config
	logger    *logrus.Logger
	transport Transport
	audit     AuditSink

	// Now and Seed are replaceable for tests.
	Now  func() time.Time
	Seed func() uint64

	inbox chan Command
	done  chan struct{}

	sessions *session.Registry
	lobbies  *lobby.Directory
	guard    *replay.Guard
}

// New builds a server. audit may be nil.
func New(cfg Config, t Transport, audit AuditSink, logger *logrus.Logger) *Server {
	if audit == nil {
		audit = NopAudit{}
	}
	dir := lobby.NewDirectory()
	dir.Countdown = cfg.StartCountdown
	return &Server{
		cfg:       cfg,
		logger:    logger,
		transport: t,
		audit:     audit,
		Now:       time.Now,
		Seed:      rand.Uint64,
		inbox:     make(chan Command, cfg.InboxSize),
		done:      make(chan struct{}),
		sessions:  session.NewRegistry(),
		lobbies:   dir,
		guard:     replay.NewGuard(),
	}
}

// Submit queues cmd for the loop. It blocks while the inbox is full, which
// pushes back on the read pump that produced it.
func (s *Server) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.inbox <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lobbies returns a snapshot of every lobby, taken on the loop.
func (s *Server) Lobbies(ctx context.Context) ([]lobby.Summary, error) {
	reply := make(chan []lobby.Summary, 1)
	if err := s.Submit(ctx, queryCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-s.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes commands and ticks until ctx is cancelled. A tick that runs
// long is logged; the ticker drops the ticks it missed.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickRate)
	defer ticker.Stop()
	defer close(s.done)

	s.logger.Infof("Server loop running at %v per tick", s.cfg.TickRate)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Server loop stopping")
			return nil
		case cmd := <-s.inbox:
			cmd.apply(s)
		case <-ticker.C:
			start := time.Now()
			s.Tick()
			if elapsed := time.Since(start); elapsed > s.cfg.TickRate {
				s.logger.Debugf("Tick took %v, over the %v budget", elapsed, s.cfg.TickRate)
			}
		}
	}
}

// Step applies one command synchronously. It must only be called from the
// goroutine that owns the server (tests, or instead of Run).
func (s *Server) Step(cmd Command) {
	cmd.apply(s)
}
