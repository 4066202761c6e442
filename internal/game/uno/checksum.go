// internal/game/uno/checksum.go
package uno

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Checksum is a coarse desync detector over the publicly observable shape of
// the game. It is not a proof of anything; hands are reduced to their sizes.
func Checksum(s *State) string {
	var b strings.Builder
	if len(s.DiscardPile) > 0 {
		b.WriteString(s.Top().ID)
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.CurrentTurn))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Direction))
	b.WriteByte('|')
	for _, id := range s.TurnOrder {
		b.WriteString(id)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(s.Hands[id])))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(len(s.DrawPile)))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.PendingDraw))
	b.WriteByte('|')
	b.WriteString(string(s.ChosenColor))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
