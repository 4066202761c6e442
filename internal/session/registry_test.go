// internal/session/registry_test.go
package session

import (
	"testing"
	"time"

	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestConnectEvictsPreviousChannel(t *testing.T) {
	r := NewRegistry()
	alice := models.Identity{ParticipantID: "alice", DisplayName: "Alice"}

	p, prev, resumed := r.Connect(alice, "ch-1", t0)
	assert.Empty(t, prev)
	assert.False(t, resumed)
	assert.True(t, p.Connected)

	p.LobbyID = "lobby-1"
	p2, prev, resumed := r.Connect(alice, "ch-2", t0.Add(time.Second))
	assert.Same(t, p, p2)
	assert.Equal(t, "ch-1", prev)
	assert.True(t, resumed)
	assert.Equal(t, "lobby-1", p2.LobbyID, "membership survives a reconnect")

	_, ok := r.ByChannel("ch-1")
	assert.False(t, ok)
	got, ok := r.ByChannel("ch-2")
	require.True(t, ok)
	assert.Equal(t, "alice", got.ID)
}

func TestDetachIgnoresStaleChannel(t *testing.T) {
	r := NewRegistry()
	alice := models.Identity{ParticipantID: "alice"}
	r.Connect(alice, "ch-1", t0)
	r.Connect(alice, "ch-2", t0)

	_, ok := r.Detach("alice", "ch-1")
	assert.False(t, ok)
	p, _ := r.Get("alice")
	assert.True(t, p.Connected)

	_, ok = r.Detach("alice", "ch-2")
	assert.True(t, ok)
	assert.False(t, p.Connected)
	assert.Empty(t, p.ChannelID)
	assert.Equal(t, 1, r.Len(), "detaching keeps the participant")
}

func TestExpiredAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Connect(models.Identity{ParticipantID: "b"}, "ch-b", t0)
	r.Connect(models.Identity{ParticipantID: "a"}, "ch-a", t0)
	r.Connect(models.Identity{ParticipantID: "c"}, "ch-c", t0)
	r.Touch("c", t0.Add(20*time.Second))

	expired := r.Expired(t0.Add(31*time.Second), 30*time.Second)
	assert.Equal(t, []string{"a", "b"}, expired)

	_, ok := r.Remove("a")
	assert.True(t, ok)
	_, ok = r.ByChannel("ch-a")
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestNextSyncSeq(t *testing.T) {
	p := &Participant{}
	assert.Equal(t, uint64(1), p.NextSyncSeq())
	assert.Equal(t, uint64(2), p.NextSyncSeq())
}
