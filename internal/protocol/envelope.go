// internal/protocol/envelope.go
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subprotocol is the websocket subprotocol both ends must negotiate.
const Subprotocol = "tablesync"

// MessageType is the closed set of envelope types exchanged over a channel.
type MessageType string

const (
	MsgConnect      MessageType = "connect"
	MsgDisconnect   MessageType = "disconnect"
	MsgJoinLobby    MessageType = "join_lobby"
	MsgLeaveLobby   MessageType = "leave_lobby"
	MsgSetReady     MessageType = "set_ready"
	MsgStartGame    MessageType = "start_game"
	MsgPlayerInput  MessageType = "player_input"
	MsgGameAction   MessageType = "game_action"
	MsgStateSync    MessageType = "state_sync"
	MsgHeartbeat    MessageType = "heartbeat"
	MsgError        MessageType = "error"
	MsgLobbyUpdate  MessageType = "lobby_update"
	MsgLobbyClosed  MessageType = "lobby_closed"
	MsgPlayerJoined MessageType = "player_joined"
	MsgPlayerLeft   MessageType = "player_left"
)

var knownTypes = map[MessageType]bool{
	MsgConnect:      true,
	MsgDisconnect:   true,
	MsgJoinLobby:    true,
	MsgLeaveLobby:   true,
	MsgSetReady:     true,
	MsgStartGame:    true,
	MsgPlayerInput:  true,
	MsgGameAction:   true,
	MsgStateSync:    true,
	MsgHeartbeat:    true,
	MsgError:        true,
	MsgLobbyUpdate:  true,
	MsgLobbyClosed:  true,
	MsgPlayerJoined: true,
	MsgPlayerLeft:   true,
}

// Valid reports whether t belongs to the closed enumeration.
func (t MessageType) Valid() bool {
	return knownTypes[t]
}

// ServerOnly reports whether t may only be emitted by the server.
func (t MessageType) ServerOnly() bool {
	switch t {
	case MsgStateSync, MsgError, MsgLobbyUpdate, MsgLobbyClosed, MsgPlayerJoined, MsgPlayerLeft:
		return true
	}
	return false
}

// Envelope is the generic wire message.
type Envelope struct {
	Type           MessageType     `json:"type"`
	MessageID      string          `json:"messageId"`
	Timestamp      int64           `json:"timestamp"`
	ParticipantID  string          `json:"participantId,omitempty"`
	LobbyID        string          `json:"lobbyId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	SequenceNumber uint64          `json:"sequenceNumber,omitempty"`
}

// New builds an envelope with a fresh message id and the current timestamp.
// data is marshaled into the Data field when non-nil.
func New(typ MessageType, lobbyID string, data interface{}) (Envelope, error) {
	env := Envelope{
		Type:      typ,
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		LobbyID:   lobbyID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, Errorf(CodeProtocol, "marshal %s payload: %v", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// MustNew is New for payloads that are known to marshal (plain structs and maps).
func MustNew(typ MessageType, lobbyID string, data interface{}) Envelope {
	env, err := New(typ, lobbyID, data)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode parses raw bytes into an envelope and checks the type against the closed set.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, Errorf(CodeProtocol, "malformed envelope: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, Errorf(CodeProtocol, "envelope is missing a type")
	}
	if !env.Type.Valid() {
		return Envelope{}, Errorf(CodeProtocol, "unknown message type %q", env.Type)
	}
	return env, nil
}

// Encode marshals an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeData unmarshals the envelope payload into v. An empty payload leaves v untouched.
func (e Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return Errorf(CodeProtocol, "malformed %s payload: %v", e.Type, err)
	}
	return nil
}
