// internal/protocol/payloads.go
package protocol

import "encoding/json"

// ConnectData acknowledges an accepted connection.
type ConnectData struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Resumed       bool   `json:"resumed"`
	LobbyID       string `json:"lobbyId,omitempty"`
}

// JoinLobbyData is sent by a client. An empty LobbyID asks the server to matchmake.
type JoinLobbyData struct {
	LobbyID     string                 `json:"lobbyId,omitempty"`
	GameType    string                 `json:"gameType,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

// ReadyData toggles the sender's ready flag.
type ReadyData struct {
	Ready bool `json:"ready"`
}

// ActionData is the payload of player_input / game_action.
type ActionData struct {
	Action string `json:"action"`
	CardID string `json:"cardId,omitempty"`
	Color  string `json:"color,omitempty"`
	Target string `json:"target,omitempty"`
}

// StateSyncData carries one participant's authoritative view.
// Seq increases monotonically per participant; Ack is the last validated
// input sequence number of the recipient.
type StateSyncData struct {
	Seq        uint64          `json:"seq"`
	Ack        uint64          `json:"ack"`
	GameID     string          `json:"gameId"`
	GameType   string          `json:"gameType"`
	LobbyState string          `json:"lobbyState"`
	Checksum   string          `json:"checksum"`
	Winner     string          `json:"winner,omitempty"`
	State      json.RawMessage `json:"state"`
}

// ErrorData is sent only to the offending participant.
type ErrorData struct {
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	SequenceNumber uint64    `json:"sequenceNumber,omitempty"`
}

// HeartbeatData is echoed back by the server with its own clock and the
// transport's latency estimate filled in.
type HeartbeatData struct {
	SentAt     int64  `json:"sentAt"`
	ServerTime int64  `json:"serverTime,omitempty"`
	LatencyMs  int64  `json:"latencyMs,omitempty"`
	JitterMs   int64  `json:"jitterMs,omitempty"`
	Quality    string `json:"quality,omitempty"`
}

// LobbyMember is one row of a lobby_update.
type LobbyMember struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Host          bool   `json:"host"`
	Ready         bool   `json:"ready"`
	Connected     bool   `json:"connected"`
}

// LobbyUpdateData is the full lobby snapshot broadcast after membership changes.
type LobbyUpdateData struct {
	LobbyID  string        `json:"lobbyId"`
	HostID   string        `json:"hostId"`
	GameType string        `json:"gameType"`
	State    string        `json:"state"`
	Settings interface{}   `json:"settings"`
	Members  []LobbyMember `json:"members"`
}

// PlayerData announces a join or departure.
type PlayerData struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// LobbyClosedData tells members their lobby was torn down.
type LobbyClosedData struct {
	LobbyID string `json:"lobbyId"`
	Reason  string `json:"reason"`
}

// StartGameData announces the countdown before play begins.
type StartGameData struct {
	GameID      string `json:"gameId"`
	GameType    string `json:"gameType"`
	CountdownMs int64  `json:"countdownMs"`
	StartsAt    int64  `json:"startsAt"`
}
