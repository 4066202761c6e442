// internal/server/dispatch.go
package server

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tablesync/internal/game"
	"github.com/jason-s-yu/tablesync/internal/lobby"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/jason-s-yu/tablesync/internal/session"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleConnected(identity models.Identity, channelID string) {
	now := s.Now()
	p, prev, resumed := s.sessions.Connect(identity, channelID, now)
	if prev != "" {
		s.logger.Infof("Participant %s replaced channel %s with %s", p.ID, prev, channelID)
	}
	s.logger.WithFields(logrus.Fields{
		"participant": p.ID,
		"channel":     channelID,
		"resumed":     resumed,
	}).Info("Participant connected")

	s.transport.Send(p.ID, protocol.MustNew(protocol.MsgConnect, p.LobbyID, protocol.ConnectData{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Resumed:       resumed,
		LobbyID:       p.LobbyID,
	}))

	// a resumed session gets a fresh picture of where it left off
	l, ok := s.lobbies.LobbyOf(p.ID)
	if !ok {
		return
	}
	s.transport.Subscribe(l.ID, p.ID)
	s.broadcastLobbyUpdate(l)
	if l.Game != nil {
		s.sendSync(p, l, l.Game)
	}
}

func (s *Server) handleDetached(pid, channelID, reason string) {
	p, ok := s.sessions.Detach(pid, channelID)
	if !ok {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"participant": pid,
		"channel":     channelID,
		"reason":      reason,
	}).Info("Participant detached, waiting for resume")
	if l, ok := s.lobbies.LobbyOf(p.ID); ok {
		s.broadcastLobbyUpdate(l)
	}
}

func (s *Server) handleInbound(pid, channelID string, raw []byte) {
	p, ok := s.sessions.ByChannel(channelID)
	if !ok || p.ID != pid {
		// a late read from an evicted channel
		return
	}
	now := s.Now()
	s.sessions.Touch(p.ID, now)

	env, err := protocol.Decode(raw)
	if err != nil {
		s.sendError(p, err, 0)
		return
	}
	s.dispatch(p, env)
}

// dispatch routes one decoded envelope. Every message type is listed.
func (s *Server) dispatch(p *session.Participant, env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgConnect:
		s.transport.Send(p.ID, protocol.MustNew(protocol.MsgConnect, p.LobbyID, protocol.ConnectData{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Resumed:       true,
			LobbyID:       p.LobbyID,
		}))
	case protocol.MsgDisconnect:
		s.destroy(p, transport.ReasonClientBye)
	case protocol.MsgJoinLobby:
		s.handleJoin(p, env)
	case protocol.MsgLeaveLobby:
		s.leave(p, "left")
	case protocol.MsgSetReady:
		s.handleReady(p, env)
	case protocol.MsgStartGame:
		s.handleStart(p)
	case protocol.MsgPlayerInput, protocol.MsgGameAction:
		s.handleAction(p, env)
	case protocol.MsgHeartbeat:
		s.handleHeartbeat(p, env)
	case protocol.MsgStateSync, protocol.MsgError, protocol.MsgLobbyUpdate,
		protocol.MsgLobbyClosed, protocol.MsgPlayerJoined, protocol.MsgPlayerLeft:
		s.sendError(p, protocol.Errorf(protocol.CodeProtocol, "%s may only be sent by the server", env.Type), env.SequenceNumber)
	default:
		s.sendError(p, protocol.Errorf(protocol.CodeProtocol, "unhandled message type %q", env.Type), env.SequenceNumber)
	}
}

func (s *Server) handleJoin(p *session.Participant, env protocol.Envelope) {
	var data protocol.JoinLobbyData
	if err := env.DecodeData(&data); err != nil {
		s.sendError(p, err, 0)
		return
	}
	now := s.Now()

	var (
		res lobby.JoinResult
		err error
	)
	if data.LobbyID != "" {
		res, err = s.lobbies.Join(p.ID, data.LobbyID, now)
	} else {
		gameType, perr := game.ParseType(data.GameType)
		if perr != nil {
			s.sendError(p, perr, 0)
			return
		}
		res, err = s.lobbies.FindOrCreate(p.ID, gameType, data.Preferences, now)
	}
	if err != nil {
		s.sendError(p, err, 0)
		return
	}

	if res.Left != nil {
		s.afterDeparture(p, res.Left, "moved")
	}
	l := res.Lobby
	if p.LobbyID == l.ID {
		// already a member; just refresh
		s.broadcastLobbyUpdate(l)
		return
	}
	p.LobbyID = l.ID
	p.Ready = false
	s.transport.Subscribe(l.ID, p.ID)

	s.logger.WithFields(logrus.Fields{
		"participant": p.ID,
		"lobby":       l.ID,
		"created":     res.Created,
	}).Info("Participant joined lobby")

	s.transport.Broadcast(l.ID, protocol.MustNew(protocol.MsgPlayerJoined, l.ID, protocol.PlayerData{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
	}), p.ID)
	s.broadcastLobbyUpdate(l)
}

func (s *Server) handleReady(p *session.Participant, env protocol.Envelope) {
	l, ok := s.lobbies.LobbyOf(p.ID)
	if !ok {
		s.sendError(p, protocol.Errorf(protocol.CodeTurn, "not in a lobby"), 0)
		return
	}
	var data protocol.ReadyData
	if err := env.DecodeData(&data); err != nil {
		s.sendError(p, err, 0)
		return
	}
	p.Ready = data.Ready
	s.lobbies.Touch(l.ID, s.Now())
	s.broadcastLobbyUpdate(l)
}

func (s *Server) handleStart(p *session.Participant) {
	l, ok := s.lobbies.LobbyOf(p.ID)
	if !ok {
		s.sendError(p, protocol.Errorf(protocol.CodeTurn, "not in a lobby"), 0)
		return
	}
	now := s.Now()
	isReady := func(pid string) bool {
		member, ok := s.sessions.Get(pid)
		return ok && member.Ready
	}
	if _, err := s.lobbies.StartGame(l.ID, p.ID, isReady, s.Seed(), now); err != nil {
		s.sendError(p, err, 0)
		return
	}
	g := l.Game
	s.logger.WithFields(logrus.Fields{
		"lobby": l.ID,
		"game":  g.ID,
	}).Infof("Game starting in %v", s.cfg.StartCountdown)

	s.audit.Record(models.AuditRecord{
		GameID:      g.ID,
		LobbyID:     l.ID,
		ActionIndex: -1,
		ActorID:     p.ID,
		ActionType:  models.AuditGameStart,
		Timestamp:   now.UnixMilli(),
	})
	s.transport.Broadcast(l.ID, protocol.MustNew(protocol.MsgStartGame, l.ID, protocol.StartGameData{
		GameID:      g.ID,
		GameType:    string(g.Type),
		CountdownMs: s.cfg.StartCountdown.Milliseconds(),
		StartsAt:    l.StartDeadline.UnixMilli(),
	}))
	s.broadcastLobbyUpdate(l)
	s.syncGame(l, g)
}

func (s *Server) handleAction(p *session.Participant, env protocol.Envelope) {
	seq := env.SequenceNumber
	l, ok := s.lobbies.LobbyOf(p.ID)
	if !ok || l.Game == nil {
		s.sendError(p, protocol.Errorf(protocol.CodeTurn, "no game in progress"), seq)
		return
	}
	if l.State != lobby.StatePlaying {
		s.sendError(p, protocol.Errorf(protocol.CodeTurn, "game is %s", l.State), seq)
		return
	}
	if err := s.guard.Validate(p.ID, seq); err != nil {
		s.logger.Warnf("Participant %s: rejected replayed action seq=%d", p.ID, seq)
		s.sendError(p, err, seq)
		return
	}

	var data protocol.ActionData
	if err := env.DecodeData(&data); err != nil {
		s.sendError(p, err, seq)
		return
	}
	g := l.Game
	next, events, err := g.State.Apply(p.ID, data)
	if err != nil {
		s.sendError(p, err, seq)
		return
	}

	now := s.Now()
	action := models.Action{
		ID:             uuid.NewString(),
		ParticipantID:  p.ID,
		Type:           data.Action,
		Payload:        env.Data,
		Timestamp:      now.UnixMilli(),
		SequenceNumber: seq,
		Validated:      true,
	}
	idx := g.Commit(next, &action, now)
	s.lobbies.Touch(l.ID, now)

	s.audit.Record(models.AuditRecord{
		GameID:      g.ID,
		LobbyID:     l.ID,
		ActionIndex: idx,
		ActorID:     p.ID,
		ActionType:  data.Action,
		Payload:     env.Data,
		Timestamp:   action.Timestamp,
	})
	for _, ev := range events {
		if ev.Kind == models.AuditChallengeFailed {
			s.audit.Record(models.AuditRecord{
				GameID:      g.ID,
				LobbyID:     l.ID,
				ActionIndex: idx,
				ActorID:     p.ID,
				ActionType:  models.AuditChallengeFailed,
				Payload:     env.Data,
				Timestamp:   action.Timestamp,
			})
		}
	}

	if next.Ended() {
		s.finishGame(l)
		return
	}
	s.syncGame(l, g)
}

func (s *Server) handleHeartbeat(p *session.Participant, env protocol.Envelope) {
	var data protocol.HeartbeatData
	if err := env.DecodeData(&data); err != nil {
		s.sendError(p, err, 0)
		return
	}
	p.Latency = s.transport.Latency(p.ID)
	data.ServerTime = s.Now().UnixMilli()
	data.LatencyMs = p.Latency.Milliseconds()
	data.JitterMs = s.transport.Jitter(p.ID).Milliseconds()
	data.Quality = string(s.transport.Quality(p.ID))
	s.transport.Send(p.ID, protocol.MustNew(protocol.MsgHeartbeat, p.LobbyID, data))
}

// leave takes p out of its lobby, if any.
func (s *Server) leave(p *session.Participant, reason string) {
	dep, ok := s.lobbies.Leave(p.ID, s.Now())
	if !ok {
		return
	}
	s.afterDeparture(p, dep, reason)
}

// afterDeparture notifies whoever is left behind by p.
func (s *Server) afterDeparture(p *session.Participant, dep *lobby.Departure, reason string) {
	l := dep.Lobby
	p.LobbyID = ""
	p.Ready = false
	s.transport.Unsubscribe(l.ID, p.ID)
	s.logger.WithFields(logrus.Fields{
		"participant": p.ID,
		"lobby":       l.ID,
		"reason":      reason,
	}).Info("Participant left lobby")

	if dep.Closed {
		s.closeLobby(l, dep.Reason)
		return
	}
	s.transport.Broadcast(l.ID, protocol.MustNew(protocol.MsgPlayerLeft, l.ID, protocol.PlayerData{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Reason:        reason,
	}))
	s.broadcastLobbyUpdate(l)

	if dep.GameChanged && l.Game != nil {
		g := l.Game
		s.audit.Record(models.AuditRecord{
			GameID:      g.ID,
			LobbyID:     l.ID,
			ActionIndex: -1,
			ActorID:     p.ID,
			ActionType:  models.AuditParticipantLeft,
			Timestamp:   s.Now().UnixMilli(),
		})
		if g.State.Ended() {
			s.finishGame(l)
			return
		}
		s.syncGame(l, g)
	}
}

// closeLobby tells the remaining members their lobby is gone. The directory
// has already dropped it.
func (s *Server) closeLobby(l *lobby.Lobby, reason string) {
	s.logger.Infof("Lobby %s closed (%s)", l.ID, reason)
	s.transport.Broadcast(l.ID, protocol.MustNew(protocol.MsgLobbyClosed, l.ID, protocol.LobbyClosedData{
		LobbyID: l.ID,
		Reason:  reason,
	}))
	for _, pid := range l.Participants {
		if member, ok := s.sessions.Get(pid); ok && member.LobbyID == l.ID {
			member.LobbyID = ""
			member.Ready = false
		}
	}
	s.transport.DropLobby(l.ID)
}

// destroy forgets a participant entirely: lobby membership, sequence counter,
// session and channel.
func (s *Server) destroy(p *session.Participant, reason string) {
	s.leave(p, reason)
	s.guard.Forget(p.ID)
	channelID := p.ChannelID
	s.sessions.Remove(p.ID)
	if channelID != "" {
		s.transport.DisconnectChannel(p.ID, channelID, reason)
	}
	s.logger.WithFields(logrus.Fields{
		"participant": p.ID,
		"reason":      reason,
	}).Info("Participant removed")
}

// finishGame sends the final state, drops the instance and clears ready flags.
func (s *Server) finishGame(l *lobby.Lobby) {
	g := l.Game
	now := s.Now()
	winner := g.State.Winner()
	s.lobbies.EndGame(l.ID, now)
	s.logger.WithFields(logrus.Fields{
		"lobby":  l.ID,
		"game":   g.ID,
		"winner": winner,
	}).Info("Game ended")

	payload, _ := json.Marshal(map[string]interface{}{"winner": winner, "actions": len(g.History)})
	s.audit.Record(models.AuditRecord{
		GameID:      g.ID,
		LobbyID:     l.ID,
		ActionIndex: len(g.History),
		ActorID:     winner,
		ActionType:  models.AuditGameEnd,
		Payload:     payload,
		Timestamp:   now.UnixMilli(),
	})

	s.syncGame(l, g)
	for _, pid := range l.Participants {
		if member, ok := s.sessions.Get(pid); ok {
			member.Ready = false
		}
	}
	s.broadcastLobbyUpdate(l)
}

// syncGame sends every connected member its own view of g.
func (s *Server) syncGame(l *lobby.Lobby, g *lobby.GameInstance) {
	for _, pid := range l.Participants {
		p, ok := s.sessions.Get(pid)
		if !ok || !p.Connected {
			continue
		}
		s.sendSync(p, l, g)
	}
}

func (s *Server) sendSync(p *session.Participant, l *lobby.Lobby, g *lobby.GameInstance) {
	view, err := g.State.View(p.ID)
	if err != nil {
		s.logger.Errorf("Game %s: failed to project state for %s: %v", g.ID, p.ID, err)
		return
	}
	s.transport.Send(p.ID, protocol.MustNew(protocol.MsgStateSync, l.ID, protocol.StateSyncData{
		Seq:        p.NextSyncSeq(),
		Ack:        s.guard.Last(p.ID),
		GameID:     g.ID,
		GameType:   string(g.Type),
		LobbyState: string(l.State),
		Checksum:   g.Checksum,
		Winner:     g.State.Winner(),
		State:      view,
	}))
}

func (s *Server) broadcastLobbyUpdate(l *lobby.Lobby) {
	snap := l.Snapshot(func(pid string) protocol.LobbyMember {
		m := protocol.LobbyMember{}
		if p, ok := s.sessions.Get(pid); ok {
			m.DisplayName = p.DisplayName
			m.Ready = p.Ready
			m.Connected = p.Connected
		}
		return m
	})
	s.transport.Broadcast(l.ID, protocol.MustNew(protocol.MsgLobbyUpdate, l.ID, snap))
}

func (s *Server) sendError(p *session.Participant, err error, seq uint64) {
	s.transport.Send(p.ID, protocol.MustNew(protocol.MsgError, p.LobbyID, protocol.ErrorData{
		Code:           protocol.CodeOf(err),
		Message:        protocol.MessageOf(err),
		SequenceNumber: seq,
	}))
}
