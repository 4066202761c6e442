// internal/models/identity.go
package models

// Identity is the authenticated triplet handed to the sync layer by the upstream
// identity provider. Nothing past the edge ever verifies credentials again.
type Identity struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	SessionToken  string `json:"-"`
}

// Valid reports whether the identity carries a participant id.
func (i Identity) Valid() bool {
	return i.ParticipantID != ""
}
