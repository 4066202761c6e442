// internal/game/uno/predict.go
package uno

import (
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Predict applies a locally issued action to a client's view so the UI can
// show it before the server confirms. It mirrors Apply for everything the
// view can see; effects that depend on hidden cards (what gets drawn, whether
// a challenge lands) are left to the next state_sync.
func Predict(v View, a Action) (View, error) {
	if a.Actor == "" {
		a.Actor = v.ParticipantID
	}
	if v.Phase != PhasePlaying {
		return v, protocol.Errorf(protocol.CodeTurn, "game is %s", v.Phase)
	}
	if v.AwaitingColor && a.Type != ChooseColor {
		return v, protocol.Errorf(protocol.CodeTurn, "waiting for %s to choose a color", v.CurrentPlayer)
	}
	switch a.Type {
	case CallUno:
		if len(v.Hand) != 1 {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "uno can only be called holding exactly one card")
		}
		next := v.Clone()
		if p := next.player(a.Actor); p != nil {
			p.CalledUno = true
		}
		return next, nil
	case ChallengeUno:
		return v, nil
	case PlayCard, DrawCard, ChooseColor, PassTurn:
		if a.Actor != v.CurrentPlayer {
			return v, protocol.Errorf(protocol.CodeTurn, "it is %s's turn", v.CurrentPlayer)
		}
	default:
		return v, protocol.Errorf(protocol.CodeProtocol, "unknown action %q", a.Type)
	}

	next := v.Clone()
	switch a.Type {
	case PlayCard:
		idx := -1
		for i, c := range next.Hand {
			if c.ID == a.CardID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "card %q is not in your hand", a.CardID)
		}
		card := next.Hand[idx]
		active := next.ActiveColor
		if !Playable(card, next.TopCard, active, next.PendingDraw) {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "%s cannot be played on %s", card, next.TopCard)
		}
		next.Hand = append(next.Hand[:idx:idx], next.Hand[idx+1:]...)
		next.TopCard = card
		next.ActiveColor = card.Color
		next.DiscardPileSize++
		next.HasDrawn = false
		next.setHandSize(a.Actor, len(next.Hand))
		if len(next.Hand) == 0 {
			next.Phase = PhaseEnded
			next.Winner = a.Actor
			next.PendingDraw = 0
			next.MustDraw = false
			return next, nil
		}
		switch card.Type {
		case Number:
			next.advance(1)
		case Skip:
			next.advance(2)
		case Reverse:
			next.Direction = -next.Direction
			next.advance(1)
		case DrawTwo:
			next.PendingDraw += 2
			next.MustDraw = true
			next.advance(1)
		case WildCard:
			next.AwaitingColor = true
		case WildDrawFour:
			next.PendingDraw += 4
			next.MustDraw = true
			next.AwaitingColor = true
		}
	case DrawCard:
		forced := next.MustDraw || next.PendingDraw > 0
		if next.HasDrawn && !forced {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "already drew this turn; play or pass")
		}
		count := next.PendingDraw
		if count < 1 {
			count = 1
		}
		// the drawn cards themselves are unknown until the server answers
		if count > next.DrawPileSize {
			count = next.DrawPileSize
		}
		next.DrawPileSize -= count
		if p := next.player(a.Actor); p != nil {
			p.HandSize += count
			p.CalledUno = false
		}
		next.PendingDraw = 0
		next.MustDraw = false
		if forced {
			next.advance(1)
		} else {
			next.HasDrawn = true
		}
	case ChooseColor:
		if !next.AwaitingColor {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "no wild card is waiting for a color")
		}
		if !a.Color.Suit() {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "%q is not a valid color", a.Color)
		}
		next.ActiveColor = a.Color
		next.AwaitingColor = false
		next.advance(1)
	case PassTurn:
		if !next.HasDrawn || next.MustDraw {
			return v, protocol.Errorf(protocol.CodeRuleViolation, "draw a card before passing")
		}
		next.advance(1)
	}
	return next, nil
}

func (v *View) setHandSize(pid string, n int) {
	if p := v.player(pid); p != nil {
		p.HandSize = n
	}
}

func (v *View) advance(steps int) {
	n := len(v.Players)
	if n == 0 {
		return
	}
	for i := 0; i < steps; i++ {
		v.CurrentTurn = (v.CurrentTurn + v.Direction + n) % n
	}
	v.Turn++
	v.HasDrawn = false
	for i := range v.Players {
		v.Players[i].IsCurrentTurn = i == v.CurrentTurn
	}
	v.CurrentPlayer = v.Players[v.CurrentTurn].ParticipantID
	if cur := &v.Players[v.CurrentTurn]; cur.HandSize != 1 {
		cur.CalledUno = false
	}
}
