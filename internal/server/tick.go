// internal/server/tick.go
package server

import (
	"time"

	"github.com/jason-s-yu/tablesync/internal/lobby"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/jason-s-yu/tablesync/internal/transport"
)

// Tick runs one pass of timeouts and housekeeping, in order: silent
// participants, finished countdowns, stalled turns, checksums, idle lobbies.
func (s *Server) Tick() {
	now := s.Now()

	for _, pid := range s.sessions.Expired(now, s.cfg.ParticipantTimeout) {
		p, ok := s.sessions.Get(pid)
		if !ok {
			continue
		}
		s.logger.Warnf("Participant %s silent for %v, disconnecting", pid, now.Sub(p.LastActivity).Round(time.Millisecond))
		s.destroy(p, transport.ReasonTimeout)
	}

	for _, l := range s.lobbies.Promote(now) {
		s.logger.Infof("Lobby %s: game %s is now playing", l.ID, l.Game.ID)
		s.broadcastLobbyUpdate(l)
		s.syncGame(l, l.Game)
	}

	for _, l := range s.lobbies.Playing() {
		g := l.Game
		if !g.TurnExpired(now, s.cfg.TurnTimeout) {
			continue
		}
		actor := g.State.CurrentActor()
		next, _, err := g.State.ForceResolve()
		if err != nil {
			s.logger.Errorf("Game %s: could not resolve timed out turn of %s: %v", g.ID, actor, err)
			continue
		}
		s.logger.Infof("Game %s: turn of %s timed out, resolved automatically", g.ID, actor)
		g.Commit(next, nil, now)
		s.audit.Record(models.AuditRecord{
			GameID:      g.ID,
			LobbyID:     l.ID,
			ActionIndex: -1,
			ActorID:     actor,
			ActionType:  models.AuditTurnTimeout,
			Timestamp:   now.UnixMilli(),
		})
		if p, ok := s.sessions.Get(actor); ok && p.Connected {
			s.transport.Send(actor, protocol.MustNew(protocol.MsgError, l.ID, protocol.ErrorData{
				Code:    protocol.CodeTimeout,
				Message: "turn timed out",
			}))
		}
		if next.Ended() {
			s.finishGame(l)
			continue
		}
		s.syncGame(l, g)
	}

	for _, l := range s.lobbies.Playing() {
		l.Game.Checksum = l.Game.State.Checksum()
	}

	for _, l := range s.lobbies.Idle(now, s.cfg.LobbyIdleTimeout) {
		s.lobbies.Close(l.ID)
		s.closeLobby(l, lobby.ReasonIdle)
	}
}
