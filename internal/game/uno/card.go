// internal/game/uno/card.go
package uno

import (
	"fmt"
	"math/rand/v2"
)

// Color is one of the four suits, or wild.
type Color string

const (
	Red    Color = "red"
	Yellow Color = "yellow"
	Green  Color = "green"
	Blue   Color = "blue"
	Wild   Color = "wild"
)

// suits in deck-building and tie-break order.
var suits = []Color{Red, Yellow, Green, Blue}

// Suit reports whether c is one of the four playable colors.
func (c Color) Suit() bool {
	switch c {
	case Red, Yellow, Green, Blue:
		return true
	}
	return false
}

// CardType is the face of a card.
type CardType string

const (
	Number       CardType = "number"
	Skip         CardType = "skip"
	Reverse      CardType = "reverse"
	DrawTwo      CardType = "draw_two"
	WildCard     CardType = "wild"
	WildDrawFour CardType = "wild_draw_four"
)

// DeckSize is the size of the standard card set.
const DeckSize = 108

// HandSize is the number of cards dealt to each participant.
const HandSize = 7

// Card is a value type. Value is only meaningful for number cards.
type Card struct {
	ID    string   `json:"id"`
	Color Color    `json:"color"`
	Type  CardType `json:"type"`
	Value int      `json:"value"`
}

// IsWild reports whether the card belongs to the wild family.
func (c Card) IsWild() bool {
	return c.Type == WildCard || c.Type == WildDrawFour
}

// Stacks reports whether c is a draw penalty card.
func (c Card) Stacks() bool {
	return c.Type == DrawTwo || c.Type == WildDrawFour
}

func (c Card) String() string {
	if c.Type == Number {
		return fmt.Sprintf("%s %d", c.Color, c.Value)
	}
	return fmt.Sprintf("%s %s", c.Color, c.Type)
}

// NewDeck builds the 108 card set in a fixed order. Ids are stable across games
// so clients can refer to a card by id.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, color := range suits {
		deck = append(deck, Card{ID: fmt.Sprintf("%s-0-a", color), Color: color, Type: Number, Value: 0})
		for v := 1; v <= 9; v++ {
			for _, copyTag := range []string{"a", "b"} {
				deck = append(deck, Card{ID: fmt.Sprintf("%s-%d-%s", color, v, copyTag), Color: color, Type: Number, Value: v})
			}
		}
		for _, t := range []CardType{Skip, Reverse, DrawTwo} {
			for _, copyTag := range []string{"a", "b"} {
				deck = append(deck, Card{ID: fmt.Sprintf("%s-%s-%s", color, t, copyTag), Color: color, Type: t, Value: -1})
			}
		}
	}
	for i := 0; i < 4; i++ {
		deck = append(deck, Card{ID: fmt.Sprintf("wild-%d", i), Color: Wild, Type: WildCard, Value: -1})
		deck = append(deck, Card{ID: fmt.Sprintf("wild_draw_four-%d", i), Color: Wild, Type: WildDrawFour, Value: -1})
	}
	return deck
}

// shuffle is Fisher-Yates over a PCG stream, so a (seed, stream) pair always
// yields the same order.
func shuffle(cards []Card, seed, stream uint64) {
	r := rand.New(rand.NewPCG(seed, stream))
	r.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// Playable reports whether card may be played on top given the active color.
// A pending draw stack only accepts a card of the same stacking type.
func Playable(card, top Card, active Color, pendingDraw int) bool {
	if pendingDraw > 0 {
		return card.Stacks() && card.Type == top.Type
	}
	if card.IsWild() {
		return true
	}
	if active == "" {
		active = top.Color
	}
	if card.Color == active {
		return true
	}
	if card.Type == Number && top.Type == Number {
		return card.Value == top.Value
	}
	return card.Type != Number && card.Type == top.Type
}
