// internal/models/action.go
package models

import "encoding/json"

// Action captures a participant's in-game move. Once appended to a game's
// history it is never modified.
type Action struct {
	ID             string          `json:"id"`
	ParticipantID  string          `json:"participantId"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	SequenceNumber uint64          `json:"sequenceNumber"`
	Validated      bool            `json:"validated"`
}

// GameEvent is a side effect reported by a rule engine alongside the new state,
// e.g. a reshuffle or a failed challenge.
type GameEvent struct {
	Kind          string                 `json:"kind"`
	ParticipantID string                 `json:"participantId,omitempty"`
	TargetID      string                 `json:"targetId,omitempty"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}
