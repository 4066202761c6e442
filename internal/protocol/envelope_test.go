package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"missing type", `{"messageId":"x"}`},
		{"unknown type", `{"type":"teleport"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocol))
		})
	}
}

func TestDecodeRoundTripsData(t *testing.T) {
	env, err := New(MsgGameAction, "lobby-1", ActionData{Action: "play_card", CardID: "red-number-5-0"})
	require.NoError(t, err)
	env.SequenceNumber = 7

	raw, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, MsgGameAction, got.Type)
	assert.Equal(t, uint64(7), got.SequenceNumber)
	assert.NotEmpty(t, got.MessageID)

	var data ActionData
	require.NoError(t, got.DecodeData(&data))
	assert.Equal(t, "play_card", data.Action)
	assert.Equal(t, "red-number-5-0", data.CardID)
}

func TestServerOnlyTypes(t *testing.T) {
	assert.True(t, MsgStateSync.ServerOnly())
	assert.True(t, MsgLobbyClosed.ServerOnly())
	assert.False(t, MsgGameAction.ServerOnly())
	assert.False(t, MsgHeartbeat.ServerOnly())
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(CodeTurn, "not your turn"))
	assert.True(t, errors.Is(err, ErrTurn))
	assert.False(t, errors.Is(err, ErrRuleViolation))
	assert.Equal(t, CodeTurn, CodeOf(err))
	assert.Equal(t, "not your turn", MessageOf(err))
	assert.Equal(t, CodeProtocol, CodeOf(errors.New("boom")))
}
