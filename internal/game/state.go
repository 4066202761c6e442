// internal/game/state.go
package game

import (
	"encoding/json"

	"github.com/jason-s-yu/tablesync/internal/game/uno"
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Type is the closed set of supported games, chosen when a lobby is created.
type Type string

const (
	TypeUno Type = "uno"
)

// DefaultType is used when a join request names no game.
const DefaultType = TypeUno

// ParseType validates a client-supplied game type. Empty selects the default.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "":
		return DefaultType, nil
	case TypeUno:
		return TypeUno, nil
	}
	return "", protocol.Errorf(protocol.CodeProtocol, "unsupported game type %q", s)
}

// State is the tagged variant the lobby and server layers hold. Exactly one
// payload field is set, the one matching Type.
type State struct {
	Type Type
	Uno  *uno.State
}

func unsupported(t Type) error {
	return protocol.Errorf(protocol.CodeProtocol, "unsupported game type %q", t)
}

// New deals a game of type t.
func New(t Type, participantIDs []string, seed uint64) (State, error) {
	switch t {
	case TypeUno:
		s, err := uno.New(participantIDs, seed)
		if err != nil {
			return State{}, err
		}
		return State{Type: TypeUno, Uno: s}, nil
	}
	return State{}, unsupported(t)
}

// Apply runs one participant action through the engine. On error the
// returned State is s.
func (s State) Apply(actor string, in protocol.ActionData) (State, []models.GameEvent, error) {
	switch s.Type {
	case TypeUno:
		next, events, err := uno.Apply(s.Uno, uno.Action{
			Type:   uno.ActionType(in.Action),
			Actor:  actor,
			CardID: in.CardID,
			Color:  uno.Color(in.Color),
			Target: in.Target,
		})
		if err != nil {
			return s, nil, err
		}
		return State{Type: TypeUno, Uno: next}, events, nil
	}
	return s, nil, unsupported(s.Type)
}

// ForceResolve settles the current turn after a timeout.
func (s State) ForceResolve() (State, []models.GameEvent, error) {
	switch s.Type {
	case TypeUno:
		next, events, err := uno.ForceResolve(s.Uno)
		if err != nil {
			return s, nil, err
		}
		return State{Type: TypeUno, Uno: next}, events, nil
	}
	return s, nil, unsupported(s.Type)
}

// Remove takes a departed participant out of the game.
func (s State) Remove(pid string) (State, error) {
	switch s.Type {
	case TypeUno:
		next, err := uno.RemoveParticipant(s.Uno, pid)
		if err != nil {
			return s, err
		}
		return State{Type: TypeUno, Uno: next}, nil
	}
	return s, unsupported(s.Type)
}

// Checksum is the engine's coarse desync digest.
func (s State) Checksum() string {
	switch s.Type {
	case TypeUno:
		return uno.Checksum(s.Uno)
	}
	return ""
}

// View marshals pid's projection of the state.
func (s State) View(pid string) (json.RawMessage, error) {
	switch s.Type {
	case TypeUno:
		return json.Marshal(uno.ViewFor(s.Uno, pid))
	}
	return nil, unsupported(s.Type)
}

// TurnNumber changes whenever a turn resolves; the turn timer keys off it.
func (s State) TurnNumber() uint64 {
	switch s.Type {
	case TypeUno:
		return s.Uno.Turn
	}
	return 0
}

// CurrentActor is whose turn it is.
func (s State) CurrentActor() string {
	switch s.Type {
	case TypeUno:
		return s.Uno.Current()
	}
	return ""
}

// Ended reports whether the game is over.
func (s State) Ended() bool {
	switch s.Type {
	case TypeUno:
		return s.Uno.Phase == uno.PhaseEnded
	}
	return true
}

// Winner is set once the game has ended with a winner.
func (s State) Winner() string {
	switch s.Type {
	case TypeUno:
		return s.Uno.Winner
	}
	return ""
}

// CardCount exposes the conservation total for consistency checks.
func (s State) CardCount() int {
	switch s.Type {
	case TypeUno:
		return s.Uno.CardCount()
	}
	return 0
}
