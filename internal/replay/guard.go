// internal/replay/guard.go
package replay

import (
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Accept is the pure anti-replay check: an incoming sequence number is valid
// only if it is strictly greater than the last one validated.
func Accept(last, incoming uint64) bool {
	return incoming > last
}

// Guard tracks the last validated sequence number per participant.
// It is owned by the server loop and is not safe for concurrent use.
type Guard struct {
	last map[string]uint64
}

func NewGuard() *Guard {
	return &Guard{last: make(map[string]uint64)}
}

// Validate accepts seq from pid iff it is greater than the last accepted one,
// recording it on acceptance.
func (g *Guard) Validate(pid string, seq uint64) error {
	last := g.last[pid]
	if !Accept(last, seq) {
		return protocol.Errorf(protocol.CodeReplayRejected, "sequence %d is not after %d", seq, last)
	}
	g.last[pid] = seq
	return nil
}

// Last returns the last validated sequence number for pid, zero if none.
func (g *Guard) Last(pid string) uint64 {
	return g.last[pid]
}

// Forget drops pid's counter once the participant is destroyed.
func (g *Guard) Forget(pid string) {
	delete(g.last, pid)
}
