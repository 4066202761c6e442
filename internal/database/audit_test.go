// internal/database/audit_test.go
package database

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	p := Params{User: "u", Password: "pw", Host: "db", Port: "5432", Database: "tablesync"}
	assert.Equal(t, "postgres://u:pw@db:5432/tablesync", p.DSN())
}

func TestGamesInKeepsFirstSeenOrder(t *testing.T) {
	recs := []models.AuditRecord{
		{GameID: "g2", LobbyID: "l2"},
		{GameID: "g1", LobbyID: "l1"},
		{GameID: "g2", LobbyID: "l2"},
	}
	assert.Equal(t, []gameRef{{"g2", "l2"}, {"g1", "l1"}}, gamesIn(recs))
}

func TestActionRowsMatchColumns(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	recs := []models.AuditRecord{
		{
			GameID:      "g1",
			LobbyID:     "l1",
			ActionIndex: 4,
			ActorID:     "alice",
			ActionType:  "play_card",
			Payload:     json.RawMessage(`{"cardId":"red-5-a"}`),
			Timestamp:   ts.UnixMilli(),
		},
		{GameID: "g1", LobbyID: "l1", ActionIndex: -1, ActorID: "bob", ActionType: models.AuditTurnTimeout, Timestamp: ts.UnixMilli()},
	}
	rows := actionRows(recs)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Len(t, row, len(actionColumns))
	}
	assert.Equal(t, int32(4), rows[0][2])
	assert.Equal(t, []byte(`{"cardId":"red-5-a"}`), rows[0][5])
	assert.Nil(t, rows[1][5], "an empty payload is stored as NULL")
	assert.Equal(t, ts, rows[0][6])
}
