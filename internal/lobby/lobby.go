// internal/lobby/lobby.go
package lobby

import (
	"time"

	"github.com/jason-s-yu/tablesync/internal/game"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// State is the lobby lifecycle.
type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateEnded    State = "ended"
)

// Lobby is a group of participants waiting for or playing one game.
type Lobby struct {
	ID           string
	HostID       string
	Participants []string
	GameType     game.Type
	Settings     Settings
	State        State
	CreatedAt    time.Time
	LastActivity time.Time

	// Game is non-nil exactly while State is starting or playing.
	Game *GameInstance
	// StartDeadline is when a starting lobby flips to playing.
	StartDeadline time.Time
}

// Has reports whether pid is a member.
func (l *Lobby) Has(pid string) bool {
	return indexOf(l.Participants, pid) >= 0
}

// Full reports whether the lobby is at capacity.
func (l *Lobby) Full() bool {
	return len(l.Participants) >= l.Settings.MaxPlayers
}

// Snapshot builds the lobby_update payload. describe fills in per-member
// presence data the lobby does not own.
func (l *Lobby) Snapshot(describe func(pid string) protocol.LobbyMember) protocol.LobbyUpdateData {
	members := make([]protocol.LobbyMember, 0, len(l.Participants))
	for _, pid := range l.Participants {
		m := describe(pid)
		m.ParticipantID = pid
		m.Host = pid == l.HostID
		members = append(members, m)
	}
	return protocol.LobbyUpdateData{
		LobbyID:  l.ID,
		HostID:   l.HostID,
		GameType: string(l.GameType),
		State:    string(l.State),
		Settings: l.Settings,
		Members:  members,
	}
}

// GameInstance is the live game of a lobby.
type GameInstance struct {
	ID    string
	Type  game.Type
	State game.State

	// TurnStarted is reset whenever the turn number moves.
	TurnStarted time.Time
	LastTurn    uint64

	History  []models.Action
	Checksum string
	// Version counts committed transitions.
	Version uint64
}

// Commit installs a new state, appending the action that produced it (if any)
// and restarting the turn clock when the turn moved. It returns the history
// index of the action, or -1.
func (g *GameInstance) Commit(next game.State, action *models.Action, now time.Time) int {
	g.State = next
	g.Version++
	idx := -1
	if action != nil {
		g.History = append(g.History, *action)
		idx = len(g.History) - 1
	}
	if turn := next.TurnNumber(); turn != g.LastTurn {
		g.LastTurn = turn
		g.TurnStarted = now
	}
	g.Checksum = next.Checksum()
	return idx
}

// TurnExpired reports whether the current turn has run past timeout.
func (g *GameInstance) TurnExpired(now time.Time, timeout time.Duration) bool {
	return now.Sub(g.TurnStarted) > timeout
}

// Summary is the read-only listing served over HTTP.
type Summary struct {
	ID         string    `json:"id"`
	HostID     string    `json:"hostId"`
	GameType   game.Type `json:"gameType"`
	State      State     `json:"state"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"maxPlayers"`
	Mode       string    `json:"mode"`
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
