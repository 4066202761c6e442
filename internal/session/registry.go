// internal/session/registry.go
package session

import (
	"sort"
	"time"

	"github.com/jason-s-yu/tablesync/internal/models"
)

// Participant is one authenticated identity known to the server. It outlives
// its channel: a dropped connection only detaches it until it resumes or
// times out.
type Participant struct {
	ID           string
	DisplayName  string
	SessionToken string

	ChannelID    string
	Connected    bool
	LastActivity time.Time
	Latency      time.Duration

	Ready   bool
	LobbyID string

	// LastSentSeq is the sequence of the last state_sync sent to this participant.
	// The last validated inbound sequence lives in the replay guard.
	LastSentSeq uint64
}

// NextSyncSeq bumps and returns the outbound state_sync sequence.
func (p *Participant) NextSyncSeq() uint64 {
	p.LastSentSeq++
	return p.LastSentSeq
}

// Registry maps participant ids to participants and channels to participants.
// It is owned by the server loop and is not safe for concurrent use.
type Registry struct {
	byID      map[string]*Participant
	byChannel map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Participant),
		byChannel: make(map[string]string),
	}
}

// Connect binds a fresh channel to identity. An existing participant is reused
// so a reconnect resumes lobby membership; its previous channel id is returned
// so the caller can evict it. At most one channel is ever bound per participant.
func (r *Registry) Connect(id models.Identity, channelID string, now time.Time) (p *Participant, prevChannel string, resumed bool) {
	p, resumed = r.byID[id.ParticipantID]
	if !resumed {
		p = &Participant{ID: id.ParticipantID}
		r.byID[p.ID] = p
	}
	if p.ChannelID != "" && p.ChannelID != channelID {
		prevChannel = p.ChannelID
		delete(r.byChannel, prevChannel)
	}
	if id.DisplayName != "" {
		p.DisplayName = id.DisplayName
	}
	p.SessionToken = id.SessionToken
	p.ChannelID = channelID
	p.Connected = true
	p.LastActivity = now
	r.byChannel[channelID] = p.ID
	return p, prevChannel, resumed
}

// Detach marks the participant disconnected if channelID is still its live
// channel. Stale channel ids (already replaced) are ignored.
func (r *Registry) Detach(pid, channelID string) (*Participant, bool) {
	p, ok := r.byID[pid]
	if !ok || p.ChannelID != channelID {
		return nil, false
	}
	delete(r.byChannel, channelID)
	p.ChannelID = ""
	p.Connected = false
	return p, true
}

// Remove destroys a participant.
func (r *Registry) Remove(pid string) (*Participant, bool) {
	p, ok := r.byID[pid]
	if !ok {
		return nil, false
	}
	if p.ChannelID != "" {
		delete(r.byChannel, p.ChannelID)
	}
	delete(r.byID, pid)
	return p, true
}

func (r *Registry) Get(pid string) (*Participant, bool) {
	p, ok := r.byID[pid]
	return p, ok
}

// ByChannel resolves the participant that owns channelID.
func (r *Registry) ByChannel(channelID string) (*Participant, bool) {
	pid, ok := r.byChannel[channelID]
	if !ok {
		return nil, false
	}
	return r.Get(pid)
}

// Touch records activity for pid.
func (r *Registry) Touch(pid string, now time.Time) {
	if p, ok := r.byID[pid]; ok {
		p.LastActivity = now
	}
}

// Expired lists participants silent for longer than timeout, sorted by id.
func (r *Registry) Expired(now time.Time, timeout time.Duration) []string {
	var out []string
	for id, p := range r.byID {
		if now.Sub(p.LastActivity) > timeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	return len(r.byID)
}
