// internal/client/log.go
package client

import (
	"github.com/jason-s-yu/tablesync/internal/protocol"
)

// Predictor applies one locally issued action to a view. It must not mutate
// its input.
type Predictor[S any] func(view S, in protocol.ActionData) (S, error)

// Entry is an issued action the server has not acknowledged yet.
type Entry struct {
	Seq   uint64
	Input protocol.ActionData
}

// Log is the pending-input log behind optimistic play. The predicted view is
// always the last confirmed view with every pending entry replayed on top.
type Log[S any] struct {
	predict Predictor[S]

	confirmed S
	predicted S
	pending   []Entry

	nextSeq  uint64
	lastSync uint64
}

// NewLog starts a log from an authoritative view. Sequence numbers continue
// after startSeq.
func NewLog[S any](authoritative S, predict Predictor[S], startSeq uint64) *Log[S] {
	return &Log[S]{
		predict:   predict,
		confirmed: authoritative,
		predicted: authoritative,
		nextSeq:   startSeq,
	}
}

// Issue numbers in, applies it to the predicted view and keeps it pending.
// An action the local prediction refuses is not issued.
func (l *Log[S]) Issue(in protocol.ActionData) (Entry, S, error) {
	next, err := l.predict(l.predicted, in)
	if err != nil {
		return Entry{}, l.predicted, err
	}
	l.nextSeq++
	e := Entry{Seq: l.nextSeq, Input: in}
	l.pending = append(l.pending, e)
	l.predicted = next
	return e, next, nil
}

// Reconcile adopts an authoritative view carried by state_sync number seq,
// drops everything the server acknowledged and replays the rest. A sync that
// is not newer than the last one seen is ignored and Reconcile returns false.
func (l *Log[S]) Reconcile(seq, ack uint64, authoritative S) bool {
	if seq <= l.lastSync {
		return false
	}
	l.lastSync = seq
	l.confirmed = authoritative
	keep := l.pending[:0]
	for _, e := range l.pending {
		if e.Seq > ack {
			keep = append(keep, e)
		}
	}
	l.pending = keep
	l.replay()
	return true
}

// Reject drops the entry the server refused and replays the remainder.
func (l *Log[S]) Reject(seq uint64) bool {
	for i, e := range l.pending {
		if e.Seq == seq {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			l.replay()
			return true
		}
	}
	return false
}

// replay rebuilds the prediction. Entries the current view refuses stay
// pending; the server has the final word on them.
func (l *Log[S]) replay() {
	view := l.confirmed
	for _, e := range l.pending {
		if next, err := l.predict(view, e.Input); err == nil {
			view = next
		}
	}
	l.predicted = view
}

// ResetSync forgets the last seen state_sync number. The server numbers syncs
// per session, so a fresh session starts again from one.
func (l *Log[S]) ResetSync() {
	l.lastSync = 0
}

func (l *Log[S]) Confirmed() S { return l.confirmed }
func (l *Log[S]) Predicted() S { return l.predicted }

// Pending returns a copy of the unacknowledged entries, oldest first.
func (l *Log[S]) Pending() []Entry {
	return append([]Entry(nil), l.pending...)
}

// LastSeq is the number of the most recently issued action.
func (l *Log[S]) LastSeq() uint64 {
	return l.nextSeq
}
