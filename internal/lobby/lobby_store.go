// internal/lobby/lobby_store.go
package lobby

import (
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tablesync/internal/game"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// DefaultCountdown is the delay between start_game and play.
const DefaultCountdown = 3 * time.Second

// Close reasons carried in lobby_closed.
const (
	ReasonHostLeft = "host_left"
	ReasonEmpty    = "empty"
	ReasonIdle     = "idle"
)

// Departure describes the effect of a participant leaving a lobby.
type Departure struct {
	Lobby *Lobby
	// Closed is set when the lobby was torn down; Lobby.Participants then
	// holds the members that must be told.
	Closed bool
	Reason string
	// GameChanged is set when the leaver was removed from a running game.
	GameChanged bool
}

// JoinResult describes a successful join or matchmake.
type JoinResult struct {
	Lobby   *Lobby
	Created bool
	// Left is the lobby the participant was moved out of, if any.
	Left *Departure
}

// Directory owns every lobby. It is owned by the server loop and is not safe
// for concurrent use.
type Directory struct {
	Countdown time.Duration

	lobbies    map[string]*Lobby
	order      []string
	membership map[string]string
}

// NewDirectory initializes an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		Countdown:  DefaultCountdown,
		lobbies:    make(map[string]*Lobby),
		membership: make(map[string]string),
	}
}

func (d *Directory) Get(id string) (*Lobby, bool) {
	l, ok := d.lobbies[id]
	return l, ok
}

// LobbyOf returns the lobby pid currently belongs to.
func (d *Directory) LobbyOf(pid string) (*Lobby, bool) {
	id, ok := d.membership[pid]
	if !ok {
		return nil, false
	}
	return d.Get(id)
}

func (d *Directory) Len() int {
	return len(d.lobbies)
}

// FindOrCreate matchmakes pid into the first waiting lobby of gameType, in
// creation order, with room and settings matching every given preference.
// Without a match a new lobby is created with pid as host.
func (d *Directory) FindOrCreate(pid string, gameType game.Type, prefs map[string]interface{}, now time.Time) (JoinResult, error) {
	settings, err := DefaultSettings().WithPreferences(prefs)
	if err != nil {
		return JoinResult{}, err
	}
	current := d.membership[pid]
	for _, id := range d.order {
		l := d.lobbies[id]
		if id == current || l.GameType != gameType || l.State != StateWaiting || l.Full() {
			continue
		}
		if !l.Settings.Matches(prefs) {
			continue
		}
		left := d.leaveCurrent(pid, now)
		d.add(l, pid, now)
		return JoinResult{Lobby: l, Left: left}, nil
	}

	left := d.leaveCurrent(pid, now)
	l := &Lobby{
		ID:           uuid.NewString(),
		HostID:       pid,
		GameType:     gameType,
		Settings:     settings,
		State:        StateWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}
	d.lobbies[l.ID] = l
	d.order = append(d.order, l.ID)
	d.add(l, pid, now)
	return JoinResult{Lobby: l, Created: true, Left: left}, nil
}

// Join moves pid into lobbyID. The target is validated before pid leaves any
// previous lobby, so a refused join changes nothing.
func (d *Directory) Join(pid, lobbyID string, now time.Time) (JoinResult, error) {
	l, ok := d.lobbies[lobbyID]
	if !ok {
		return JoinResult{}, protocol.Errorf(protocol.CodeProtocol, "lobby %s does not exist", lobbyID)
	}
	if l.Has(pid) {
		return JoinResult{Lobby: l}, nil
	}
	if l.State != StateWaiting {
		return JoinResult{}, protocol.Errorf(protocol.CodeTurn, "lobby %s is %s", lobbyID, l.State)
	}
	if l.Full() {
		return JoinResult{}, protocol.Errorf(protocol.CodeCapacity, "lobby %s is full (%d/%d)", lobbyID, len(l.Participants), l.Settings.MaxPlayers)
	}
	left := d.leaveCurrent(pid, now)
	d.add(l, pid, now)
	return JoinResult{Lobby: l, Left: left}, nil
}

// Leave removes pid from its lobby. A departing host or an emptied lobby
// tears the lobby down; there is no host handoff.
func (d *Directory) Leave(pid string, now time.Time) (*Departure, bool) {
	dep := d.leaveCurrent(pid, now)
	return dep, dep != nil
}

func (d *Directory) leaveCurrent(pid string, now time.Time) *Departure {
	l, ok := d.LobbyOf(pid)
	if !ok {
		return nil
	}
	idx := indexOf(l.Participants, pid)
	l.Participants = append(l.Participants[:idx:idx], l.Participants[idx+1:]...)
	delete(d.membership, pid)
	l.LastActivity = now

	dep := &Departure{Lobby: l}
	switch {
	case pid == l.HostID:
		dep.Closed, dep.Reason = true, ReasonHostLeft
	case len(l.Participants) == 0:
		dep.Closed, dep.Reason = true, ReasonEmpty
	}
	if dep.Closed {
		d.Close(l.ID)
		return dep
	}

	if l.Game != nil {
		if next, err := l.Game.State.Remove(pid); err == nil {
			l.Game.Commit(next, nil, now)
			dep.GameChanged = true
		}
	}
	return dep
}

func (d *Directory) add(l *Lobby, pid string, now time.Time) {
	l.Participants = append(l.Participants, pid)
	l.LastActivity = now
	d.membership[pid] = l.ID
}

// Close tears a lobby down, dropping its game and all memberships. The
// returned lobby still lists the members to notify.
func (d *Directory) Close(lobbyID string) (*Lobby, bool) {
	l, ok := d.lobbies[lobbyID]
	if !ok {
		return nil, false
	}
	for _, pid := range l.Participants {
		if d.membership[pid] == lobbyID {
			delete(d.membership, pid)
		}
	}
	delete(d.lobbies, lobbyID)
	if idx := indexOf(d.order, lobbyID); idx >= 0 {
		d.order = append(d.order[:idx], d.order[idx+1:]...)
	}
	l.Game = nil
	l.State = StateEnded
	return l, true
}

// StartGame deals a new game for the ready members of lobbyID and begins the
// countdown. Only the host may start, from waiting or after a finished game.
func (d *Directory) StartGame(lobbyID, requesterID string, isReady func(pid string) bool, seed uint64, now time.Time) (*Lobby, error) {
	l, ok := d.lobbies[lobbyID]
	if !ok {
		return nil, protocol.Errorf(protocol.CodeProtocol, "lobby %s does not exist", lobbyID)
	}
	if requesterID != l.HostID {
		return nil, protocol.Errorf(protocol.CodeAuth, "only the host can start the game")
	}
	if l.State != StateWaiting && l.State != StateEnded {
		return nil, protocol.Errorf(protocol.CodeTurn, "lobby %s is already %s", lobbyID, l.State)
	}
	var ready []string
	for _, pid := range l.Participants {
		if isReady(pid) {
			ready = append(ready, pid)
		}
	}
	if len(ready) < 2 {
		return nil, protocol.Errorf(protocol.CodeRuleViolation, "need at least 2 ready participants, have %d", len(ready))
	}

	state, err := game.New(l.GameType, ready, seed)
	if err != nil {
		return nil, err
	}
	l.Game = &GameInstance{
		ID:          uuid.NewString(),
		Type:        l.GameType,
		State:       state,
		TurnStarted: now,
		LastTurn:    state.TurnNumber(),
		Checksum:    state.Checksum(),
	}
	l.State = StateStarting
	l.StartDeadline = now.Add(d.Countdown)
	l.LastActivity = now
	return l, nil
}

// Promote flips every starting lobby whose countdown has expired to playing
// and starts its turn clock.
func (d *Directory) Promote(now time.Time) []*Lobby {
	var out []*Lobby
	for _, id := range d.order {
		l := d.lobbies[id]
		if l.State == StateStarting && !now.Before(l.StartDeadline) {
			l.State = StatePlaying
			l.Game.TurnStarted = now
			l.LastActivity = now
			out = append(out, l)
		}
	}
	return out
}

// Playing lists lobbies with a running game, in creation order.
func (d *Directory) Playing() []*Lobby {
	var out []*Lobby
	for _, id := range d.order {
		if l := d.lobbies[id]; l.State == StatePlaying {
			out = append(out, l)
		}
	}
	return out
}

// EndGame drops the finished instance and moves the lobby to ended.
func (d *Directory) EndGame(lobbyID string, now time.Time) {
	l, ok := d.lobbies[lobbyID]
	if !ok {
		return
	}
	l.Game = nil
	l.State = StateEnded
	l.LastActivity = now
}

// Touch records activity on lobbyID.
func (d *Directory) Touch(lobbyID string, now time.Time) {
	if l, ok := d.lobbies[lobbyID]; ok {
		l.LastActivity = now
	}
}

// Idle lists lobbies with no activity for longer than timeout.
func (d *Directory) Idle(now time.Time, timeout time.Duration) []*Lobby {
	var out []*Lobby
	for _, id := range d.order {
		if l := d.lobbies[id]; now.Sub(l.LastActivity) > timeout {
			out = append(out, l)
		}
	}
	return out
}

// Summaries lists every lobby in creation order.
func (d *Directory) Summaries() []Summary {
	out := make([]Summary, 0, len(d.order))
	for _, id := range d.order {
		l := d.lobbies[id]
		out = append(out, Summary{
			ID:         l.ID,
			HostID:     l.HostID,
			GameType:   l.GameType,
			State:      l.State,
			Players:    len(l.Participants),
			MaxPlayers: l.Settings.MaxPlayers,
			Mode:       l.Settings.Mode,
		})
	}
	return out
}
