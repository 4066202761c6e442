// internal/game/uno/state.go
package uno

import (
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Phase of a game.
type Phase string

const (
	PhaseDealing Phase = "dealing"
	PhasePlaying Phase = "playing"
	PhaseEnded   Phase = "ended"
)

const (
	MinPlayers = 2
	MaxPlayers = 8
)

// State is the full authoritative state of one game. The top of the draw pile
// is the last element; the top of the discard pile is the last element.
//
// A State is treated as immutable once returned by New or Apply. Every
// transition works on a clone.
type State struct {
	DrawPile    []Card            `json:"drawPile"`
	DiscardPile []Card            `json:"discardPile"`
	Hands       map[string][]Card `json:"hands"`
	TurnOrder   []string          `json:"turnOrder"`
	CurrentTurn int               `json:"currentTurn"`
	Direction   int               `json:"direction"`
	PendingDraw int               `json:"pendingDraw"`
	MustDraw    bool              `json:"mustDraw"`
	ChosenColor Color             `json:"chosenColor,omitempty"`
	Phase       Phase             `json:"phase"`
	Winner      string            `json:"winner,omitempty"`
	Callouts    map[string]bool   `json:"callouts"`

	// AwaitingColor is set between a wild-family play and its choose_color.
	AwaitingColor bool `json:"awaitingColor"`
	// HasDrawn is set after a voluntary draw, which unlocks pass_turn.
	HasDrawn bool `json:"hasDrawn"`
	// Turn counts resolved turns. The turn timer restarts whenever it changes.
	Turn uint64 `json:"turn"`

	Seed     uint64 `json:"seed"`
	Shuffles uint64 `json:"shuffles"`
}

// New deals a fresh game for the given participants, in turn order.
func New(participantIDs []string, seed uint64) (*State, error) {
	if len(participantIDs) < MinPlayers || len(participantIDs) > MaxPlayers {
		return nil, protocol.Errorf(protocol.CodeCapacity, "uno needs %d-%d participants, got %d", MinPlayers, MaxPlayers, len(participantIDs))
	}
	seen := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		if id == "" || seen[id] {
			return nil, protocol.Errorf(protocol.CodeProtocol, "invalid or duplicate participant id %q", id)
		}
		seen[id] = true
	}

	s := &State{
		Hands:     make(map[string][]Card, len(participantIDs)),
		Callouts:  make(map[string]bool, len(participantIDs)),
		TurnOrder: append([]string(nil), participantIDs...),
		Direction: 1,
		Phase:     PhaseDealing,
		Seed:      seed,
	}

	deck := NewDeck()
	shuffle(deck, s.Seed, s.Shuffles)
	s.Shuffles++

	// deal one card at a time, round robin
	next := 0
	for round := 0; round < HandSize; round++ {
		for _, id := range s.TurnOrder {
			s.Hands[id] = append(s.Hands[id], deck[next])
			next++
		}
	}
	rest := deck[next:]

	// the first plain number card opens the discard pile
	opener := -1
	for i, c := range rest {
		if c.Type == Number {
			opener = i
			break
		}
	}
	s.DiscardPile = []Card{rest[opener]}
	s.DrawPile = make([]Card, 0, len(rest)-1)
	s.DrawPile = append(s.DrawPile, rest[:opener]...)
	s.DrawPile = append(s.DrawPile, rest[opener+1:]...)

	for _, id := range s.TurnOrder {
		s.Callouts[id] = false
	}
	s.Phase = PhasePlaying
	return s, nil
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.DrawPile = append([]Card(nil), s.DrawPile...)
	c.DiscardPile = append([]Card(nil), s.DiscardPile...)
	c.TurnOrder = append([]string(nil), s.TurnOrder...)
	c.Hands = make(map[string][]Card, len(s.Hands))
	for id, hand := range s.Hands {
		c.Hands[id] = append([]Card(nil), hand...)
	}
	c.Callouts = make(map[string]bool, len(s.Callouts))
	for id, called := range s.Callouts {
		c.Callouts[id] = called
	}
	return &c
}

// Top returns the current top of the discard pile.
func (s *State) Top() Card {
	return s.DiscardPile[len(s.DiscardPile)-1]
}

// ActiveColor is the chosen wild color when set, else the top card's color.
func (s *State) ActiveColor() Color {
	if s.ChosenColor != "" {
		return s.ChosenColor
	}
	return s.Top().Color
}

// Current returns the participant whose turn it is.
func (s *State) Current() string {
	if len(s.TurnOrder) == 0 {
		return ""
	}
	return s.TurnOrder[s.CurrentTurn]
}

// CardCount is |drawPile| + |discardPile| + sum of hand sizes.
func (s *State) CardCount() int {
	n := len(s.DrawPile) + len(s.DiscardPile)
	for _, hand := range s.Hands {
		n += len(hand)
	}
	return n
}

// HasPlayable reports whether pid holds any card playable right now.
func (s *State) HasPlayable(pid string) bool {
	top := s.Top()
	active := s.ActiveColor()
	for _, c := range s.Hands[pid] {
		if Playable(c, top, active, s.PendingDraw) {
			return true
		}
	}
	return false
}

func (s *State) indexOf(pid string) int {
	for i, id := range s.TurnOrder {
		if id == pid {
			return i
		}
	}
	return -1
}

// advance moves the turn by direction, steps times, and counts one resolved turn.
func (s *State) advance(steps int) {
	n := len(s.TurnOrder)
	for i := 0; i < steps; i++ {
		s.CurrentTurn = (s.CurrentTurn + s.Direction + n) % n
	}
	s.Turn++
	s.HasDrawn = false
	next := s.Current()
	if len(s.Hands[next]) != 1 {
		s.Callouts[next] = false
	}
}

// draw moves up to count cards from the draw pile into pid's hand,
// reshuffling the discard pile under its top card when the draw pile runs out.
// It returns the number of cards actually drawn.
func (s *State) draw(pid string, count int) (int, bool) {
	drawn := 0
	reshuffled := false
	for drawn < count {
		if len(s.DrawPile) == 0 {
			if !s.reshuffle() {
				break
			}
			reshuffled = true
		}
		last := len(s.DrawPile) - 1
		s.Hands[pid] = append(s.Hands[pid], s.DrawPile[last])
		s.DrawPile = s.DrawPile[:last]
		drawn++
	}
	return drawn, reshuffled
}

func (s *State) reshuffle() bool {
	if len(s.DiscardPile) <= 1 {
		return false
	}
	top := s.Top()
	pile := append([]Card(nil), s.DiscardPile[:len(s.DiscardPile)-1]...)
	shuffle(pile, s.Seed, s.Shuffles)
	s.Shuffles++
	s.DrawPile = append(pile, s.DrawPile...)
	s.DiscardPile = []Card{top}
	return true
}

// fallbackColor is the most common suit in pid's hand, red when there is none.
func (s *State) fallbackColor(pid string) Color {
	counts := make(map[Color]int, len(suits))
	for _, c := range s.Hands[pid] {
		if c.Color.Suit() {
			counts[c.Color]++
		}
	}
	best := Red
	for _, color := range suits {
		if counts[color] > counts[best] {
			best = color
		}
	}
	return best
}
