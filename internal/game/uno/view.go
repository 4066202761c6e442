// internal/game/uno/view.go
package uno

// PlayerView is what everyone may know about a participant.
type PlayerView struct {
	ParticipantID string `json:"participantId"`
	HandSize      int    `json:"handSize"`
	CalledUno     bool   `json:"calledUno"`
	IsCurrentTurn bool   `json:"isCurrentTurn"`
}

// View is the per-participant projection sent in state_sync. Only the
// requester's own hand is revealed.
type View struct {
	ParticipantID   string       `json:"participantId"`
	Hand            []Card       `json:"hand"`
	Players         []PlayerView `json:"players"`
	TopCard         Card         `json:"topCard"`
	ActiveColor     Color        `json:"activeColor"`
	DrawPileSize    int          `json:"drawPileSize"`
	DiscardPileSize int          `json:"discardPileSize"`
	CurrentTurn     int          `json:"currentTurn"`
	CurrentPlayer   string       `json:"currentPlayer"`
	Direction       int          `json:"direction"`
	PendingDraw     int          `json:"pendingDraw"`
	MustDraw        bool         `json:"mustDraw"`
	AwaitingColor   bool         `json:"awaitingColor"`
	HasDrawn        bool         `json:"hasDrawn"`
	Phase           Phase        `json:"phase"`
	Winner          string       `json:"winner,omitempty"`
	Turn            uint64       `json:"turn"`
}

// ViewFor projects s for pid. A pid outside the game gets a spectator view
// with no hand.
func ViewFor(s *State, pid string) View {
	v := View{
		ParticipantID:   pid,
		Hand:            append([]Card{}, s.Hands[pid]...),
		ActiveColor:     s.ActiveColor(),
		DrawPileSize:    len(s.DrawPile),
		DiscardPileSize: len(s.DiscardPile),
		CurrentTurn:     s.CurrentTurn,
		CurrentPlayer:   s.Current(),
		Direction:       s.Direction,
		PendingDraw:     s.PendingDraw,
		MustDraw:        s.MustDraw,
		AwaitingColor:   s.AwaitingColor,
		HasDrawn:        s.HasDrawn,
		Phase:           s.Phase,
		Winner:          s.Winner,
		Turn:            s.Turn,
	}
	if len(s.DiscardPile) > 0 {
		v.TopCard = s.Top()
	}
	v.Players = make([]PlayerView, len(s.TurnOrder))
	for i, id := range s.TurnOrder {
		v.Players[i] = PlayerView{
			ParticipantID: id,
			HandSize:      len(s.Hands[id]),
			CalledUno:     s.Callouts[id],
			IsCurrentTurn: i == s.CurrentTurn,
		}
	}
	return v
}

// Clone returns a deep copy of the view.
func (v View) Clone() View {
	v.Hand = append([]Card{}, v.Hand...)
	v.Players = append([]PlayerView(nil), v.Players...)
	return v
}

func (v *View) player(pid string) *PlayerView {
	for i := range v.Players {
		if v.Players[i].ParticipantID == pid {
			return &v.Players[i]
		}
	}
	return nil
}
