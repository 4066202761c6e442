// internal/models/audit.go
package models

import "encoding/json"

// AuditRecord holds the minimal info needed by the historian.
type AuditRecord struct {
	GameID      string          `json:"game_id"`
	LobbyID     string          `json:"lobby_id"`
	ActionIndex int             `json:"action_index"`
	ActorID     string          `json:"actor_id"`
	ActionType  string          `json:"action_type"`
	Payload     json.RawMessage `json:"action_payload,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Audit action types that are not player actions.
const (
	AuditGameStart       = "game_start"
	AuditGameEnd         = "game_end"
	AuditTurnTimeout     = "turn_timeout"
	AuditChallengeFailed = "challenge_failed"
	AuditParticipantLeft = "participant_left"
)
