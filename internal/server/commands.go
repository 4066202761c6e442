// internal/server/commands.go
package server

import (
	"github.com/jason-s-yu/tablesync/internal/lobby"
	"github.com/jason-s-yu/tablesync/internal/models"
)

// Command is something the edge asks the server loop to do. The set is
// closed; build values with Connected, Inbound and Detached.
type Command interface {
	apply(s *Server)
}

type connectedCmd struct {
	identity  models.Identity
	channelID string
}

type inboundCmd struct {
	participantID string
	channelID     string
	raw           []byte
}

type detachedCmd struct {
	participantID string
	channelID     string
	reason        string
}

type queryCmd struct {
	reply chan []lobby.Summary
}

// Connected reports a freshly accepted channel for an authenticated identity.
func Connected(identity models.Identity, channelID string) Command {
	return connectedCmd{identity: identity, channelID: channelID}
}

// Inbound carries one raw message read from a channel.
func Inbound(participantID, channelID string, raw []byte) Command {
	return inboundCmd{participantID: participantID, channelID: channelID, raw: raw}
}

// Detached reports that a channel closed under the participant: a read
// error, an eviction or a dead heartbeat.
func Detached(participantID, channelID, reason string) Command {
	return detachedCmd{participantID: participantID, channelID: channelID, reason: reason}
}

func (c connectedCmd) apply(s *Server) { s.handleConnected(c.identity, c.channelID) }
func (c inboundCmd) apply(s *Server)   { s.handleInbound(c.participantID, c.channelID, c.raw) }
func (c detachedCmd) apply(s *Server)  { s.handleDetached(c.participantID, c.channelID, c.reason) }
func (c queryCmd) apply(s *Server)     { c.reply <- s.lobbies.Summaries() }
