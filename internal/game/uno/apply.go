// internal/game/uno/apply.go
package uno

import (
	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// ActionType enumerates the moves a participant can make.
type ActionType string

const (
	PlayCard     ActionType = "play_card"
	DrawCard     ActionType = "draw_card"
	CallUno      ActionType = "call_uno"
	ChallengeUno ActionType = "challenge_uno"
	ChooseColor  ActionType = "choose_color"
	PassTurn     ActionType = "pass_turn"
)

// Action is one engine input. Only the fields relevant to Type are read.
type Action struct {
	Type   ActionType
	Actor  string
	CardID string
	Color  Color
	Target string
}

// Event kinds reported alongside a new state.
const (
	EventCardPlayed         = "card_played"
	EventCardsDrawn         = "cards_drawn"
	EventReshuffled         = "reshuffled"
	EventUnoCalled          = "uno_called"
	EventChallengeSucceeded = "challenge_succeeded"
	EventChallengeFailed    = models.AuditChallengeFailed
	EventColorChosen        = "color_chosen"
	EventTurnPassed         = "turn_passed"
	EventTurnTimeout        = "turn_timeout"
	EventGameWon            = "game_won"
)

// ChallengePenalty is what an uncalled last card costs.
const ChallengePenalty = 2

// Apply validates a against s and returns the next state. s is never modified;
// on error the caller keeps s.
func Apply(s *State, a Action) (*State, []models.GameEvent, error) {
	if s == nil {
		return nil, nil, protocol.Errorf(protocol.CodeProtocol, "no game state")
	}
	if s.Phase != PhasePlaying {
		return s, nil, protocol.Errorf(protocol.CodeTurn, "game is %s", s.Phase)
	}
	if _, ok := s.Hands[a.Actor]; !ok {
		return s, nil, protocol.Errorf(protocol.CodeTurn, "participant %s is not in this game", a.Actor)
	}
	if s.AwaitingColor && a.Type != ChooseColor {
		return s, nil, protocol.Errorf(protocol.CodeTurn, "waiting for %s to choose a color", s.Current())
	}

	switch a.Type {
	case CallUno:
		return callUno(s, a)
	case ChallengeUno:
		return challengeUno(s, a)
	case PlayCard, DrawCard, ChooseColor, PassTurn:
		if a.Actor != s.Current() {
			return s, nil, protocol.Errorf(protocol.CodeTurn, "it is %s's turn", s.Current())
		}
	default:
		return s, nil, protocol.Errorf(protocol.CodeProtocol, "unknown action %q", a.Type)
	}

	switch a.Type {
	case PlayCard:
		return playCard(s, a)
	case DrawCard:
		return drawCard(s, a)
	case ChooseColor:
		return chooseColor(s, a)
	default:
		return passTurn(s, a, false)
	}
}

func playCard(s *State, a Action) (*State, []models.GameEvent, error) {
	hand := s.Hands[a.Actor]
	idx := -1
	for i, c := range hand {
		if c.ID == a.CardID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "card %q is not in your hand", a.CardID)
	}
	card := hand[idx]
	if s.MustDraw && !Playable(card, s.Top(), s.ActiveColor(), s.PendingDraw) {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "a draw of %d is pending; draw or stack a %s", s.PendingDraw, s.Top().Type)
	}
	if !Playable(card, s.Top(), s.ActiveColor(), s.PendingDraw) {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "%s cannot be played on %s", card, s.Top())
	}

	next := s.Clone()
	h := next.Hands[a.Actor]
	next.Hands[a.Actor] = append(h[:idx:idx], h[idx+1:]...)
	next.DiscardPile = append(next.DiscardPile, card)
	next.ChosenColor = ""
	next.HasDrawn = false
	events := []models.GameEvent{{
		Kind:          EventCardPlayed,
		ParticipantID: a.Actor,
		Detail:        map[string]interface{}{"cardId": card.ID, "type": string(card.Type), "color": string(card.Color)},
	}}

	// an empty hand wins before any card effect resolves
	if len(next.Hands[a.Actor]) == 0 {
		next.Phase = PhaseEnded
		next.Winner = a.Actor
		next.PendingDraw = 0
		next.MustDraw = false
		next.AwaitingColor = false
		events = append(events, models.GameEvent{Kind: EventGameWon, ParticipantID: a.Actor})
		return next, events, nil
	}
	if len(next.Hands[a.Actor]) == 1 {
		next.Callouts[a.Actor] = false
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
	return next, events, nil
}

func drawCard(s *State, a Action) (*State, []models.GameEvent, error) {
	forced := s.MustDraw || s.PendingDraw > 0
	if s.HasDrawn && !forced {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "already drew this turn; play or pass")
	}
	count := s.PendingDraw
	if count < 1 {
		count = 1
	}

	next := s.Clone()
	drawn, reshuffled := next.draw(a.Actor, count)
	next.PendingDraw = 0
	next.MustDraw = false
	next.Callouts[a.Actor] = false

	var events []models.GameEvent
	if reshuffled {
		events = append(events, models.GameEvent{Kind: EventReshuffled})
	}
	events = append(events, models.GameEvent{
		Kind:          EventCardsDrawn,
		ParticipantID: a.Actor,
		Detail:        map[string]interface{}{"count": drawn, "forced": forced},
	})

	if forced {
		next.advance(1)
	} else {
		next.HasDrawn = true
	}
	return next, events, nil
}

func callUno(s *State, a Action) (*State, []models.GameEvent, error) {
	if len(s.Hands[a.Actor]) != 1 {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "uno can only be called holding exactly one card")
	}
	next := s.Clone()
	next.Callouts[a.Actor] = true
	return next, []models.GameEvent{{Kind: EventUnoCalled, ParticipantID: a.Actor}}, nil
}

func challengeUno(s *State, a Action) (*State, []models.GameEvent, error) {
	if a.Target == a.Actor {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "cannot challenge yourself")
	}
	hand, ok := s.Hands[a.Target]
	if !ok {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "challenge target %q is not in this game", a.Target)
	}
	if len(hand) != 1 || s.Callouts[a.Target] {
		return s, []models.GameEvent{{Kind: EventChallengeFailed, ParticipantID: a.Actor, TargetID: a.Target}}, nil
	}

	next := s.Clone()
	drawn, reshuffled := next.draw(a.Target, ChallengePenalty)
	next.Callouts[a.Target] = false
	var events []models.GameEvent
	if reshuffled {
		events = append(events, models.GameEvent{Kind: EventReshuffled})
	}
	events = append(events, models.GameEvent{
		Kind:          EventChallengeSucceeded,
		ParticipantID: a.Actor,
		TargetID:      a.Target,
		Detail:        map[string]interface{}{"count": drawn},
	})
	return next, events, nil
}

func chooseColor(s *State, a Action) (*State, []models.GameEvent, error) {
	if !s.AwaitingColor {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "no wild card is waiting for a color")
	}
	if a.Actor != s.Current() {
		return s, nil, protocol.Errorf(protocol.CodeTurn, "only %s may choose the color", s.Current())
	}
	if !a.Color.Suit() {
		return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "%q is not a valid color", a.Color)
	}
	next := s.Clone()
	next.ChosenColor = a.Color
	next.AwaitingColor = false
	next.advance(1)
	return next, []models.GameEvent{{
		Kind:          EventColorChosen,
		ParticipantID: a.Actor,
		Detail:        map[string]interface{}{"color": string(a.Color)},
	}}, nil
}

// passTurn ends a turn after a voluntary draw. force skips the playable-card
// check for timeouts.
func passTurn(s *State, a Action, force bool) (*State, []models.GameEvent, error) {
	if !force {
		if !s.HasDrawn || s.MustDraw {
			return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "draw a card before passing")
		}
		if s.HasPlayable(a.Actor) {
			return s, nil, protocol.Errorf(protocol.CodeRuleViolation, "you hold a playable card")
		}
	}
	next := s.Clone()
	next.advance(1)
	return next, []models.GameEvent{{Kind: EventTurnPassed, ParticipantID: a.Actor}}, nil
}

// ForceResolve settles a stalled turn so the game cannot hang: a pending color
// is picked from the actor's hand, a pending penalty is drawn, a voluntary
// draw is passed, and an idle turn draws one card and passes.
func ForceResolve(s *State) (*State, []models.GameEvent, error) {
	if s == nil || s.Phase != PhasePlaying {
		return s, nil, protocol.Errorf(protocol.CodeTurn, "no turn to resolve")
	}
	actor := s.Current()
	timeout := models.GameEvent{Kind: EventTurnTimeout, ParticipantID: actor}

	var (
		next   *State
		events []models.GameEvent
		err    error
	)
	switch {
	case s.AwaitingColor:
		next, events, err = chooseColor(s, Action{Type: ChooseColor, Actor: actor, Color: s.fallbackColor(actor)})
	case s.MustDraw:
		next, events, err = drawCard(s, Action{Type: DrawCard, Actor: actor})
	case s.HasDrawn:
		next, events, err = passTurn(s, Action{Type: PassTurn, Actor: actor}, true)
	default:
		var drawEvents []models.GameEvent
		next, drawEvents, err = drawCard(s, Action{Type: DrawCard, Actor: actor})
		if err != nil {
			break
		}
		var passEvents []models.GameEvent
		next, passEvents, err = passTurn(next, Action{Type: PassTurn, Actor: actor}, true)
		events = append(drawEvents, passEvents...)
	}
	if err != nil {
		return s, nil, err
	}
	return next, append([]models.GameEvent{timeout}, events...), nil
}

// RemoveParticipant takes pid out of a running game. Their hand goes to the
// bottom of the draw pile so the card total is unchanged. A lone survivor wins.
func RemoveParticipant(s *State, pid string) (*State, error) {
	if s == nil {
		return nil, protocol.Errorf(protocol.CodeProtocol, "no game state")
	}
	idx := s.indexOf(pid)
	if idx < 0 {
		return s, protocol.Errorf(protocol.CodeProtocol, "participant %s is not in this game", pid)
	}

	next := s.Clone()
	wasCurrent := idx == next.CurrentTurn
	if wasCurrent && next.Phase == PhasePlaying {
		if next.AwaitingColor {
			next.ChosenColor = next.fallbackColor(pid)
			next.AwaitingColor = false
		} else if next.MustDraw {
			next.PendingDraw = 0
			next.MustDraw = false
		}
		next.HasDrawn = false
	}

	next.DrawPile = append(append([]Card(nil), next.Hands[pid]...), next.DrawPile...)
	delete(next.Hands, pid)
	delete(next.Callouts, pid)
	next.TurnOrder = append(next.TurnOrder[:idx:idx], next.TurnOrder[idx+1:]...)

	n := len(next.TurnOrder)
	switch {
	case n == 0:
		next.CurrentTurn = 0
	case idx < next.CurrentTurn:
		next.CurrentTurn--
	case wasCurrent:
		if next.Direction > 0 {
			next.CurrentTurn = idx % n
		} else {
			next.CurrentTurn = (idx - 1 + n) % n
		}
		next.Turn++
	}

	if next.Phase == PhasePlaying && n <= 1 {
		next.Phase = PhaseEnded
		next.PendingDraw = 0
		next.MustDraw = false
		next.AwaitingColor = false
		if n == 1 {
			next.Winner = next.TurnOrder[0]
		}
	}
	return next, nil
}
