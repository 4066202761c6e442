// internal/game/state_test.go
package game

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/jason-s-yu/tablesync/internal/game/uno"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	typ, err := ParseType("")
	require.NoError(t, err)
	assert.Equal(t, TypeUno, typ)

	_, err = ParseType("chess")
	assert.True(t, errors.Is(err, protocol.ErrProtocol))
}

func TestStateDispatchesToUno(t *testing.T) {
	s, err := New(TypeUno, []string{"a", "b"}, 1)
	require.NoError(t, err)
	require.NotNil(t, s.Uno)
	assert.Equal(t, uno.DeckSize, s.CardCount())
	assert.Equal(t, "a", s.CurrentActor())
	assert.False(t, s.Ended())
	assert.Len(t, s.Checksum(), 64)

	next, events, err := s.Apply("a", protocol.ActionData{Action: string(uno.DrawCard)})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
	assert.Len(t, next.Uno.Hands["a"], uno.HandSize+1)
	assert.Len(t, s.Uno.Hands["a"], uno.HandSize, "the previous state is untouched")

	refused, _, err := next.Apply("b", protocol.ActionData{Action: string(uno.DrawCard)})
	assert.True(t, errors.Is(err, protocol.ErrTurn))
	assert.Same(t, next.Uno, refused.Uno)

	raw, err := next.View("b")
	require.NoError(t, err)
	var v uno.View
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Len(t, v.Hand, uno.HandSize)
	assert.Equal(t, "b", v.ParticipantID)
}

func TestUnknownTypeIsRefused(t *testing.T) {
	_, err := New(Type("poker"), []string{"a", "b"}, 1)
	assert.Error(t, err)

	s := State{Type: Type("poker")}
	_, _, err = s.Apply("a", protocol.ActionData{Action: "bet"})
	assert.Error(t, err)
	assert.True(t, s.Ended())
}
