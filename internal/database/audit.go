// internal/database/audit.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tablesync/internal/models"
)

// Schema creates the audit tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id         TEXT PRIMARY KEY,
	lobby_id   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'in_progress',
	start_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	end_time   TIMESTAMPTZ,
	winner_id  TEXT
);

CREATE TABLE IF NOT EXISTS game_actions (
	game_id        TEXT NOT NULL REFERENCES games (id),
	lobby_id       TEXT NOT NULL,
	action_index   INTEGER NOT NULL,
	actor_id       TEXT NOT NULL,
	action_type    TEXT NOT NULL,
	action_payload JSONB,
	recorded_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS game_actions_game_idx ON game_actions (game_id, action_index);
`

// actionColumns is the CopyFrom column order of game_actions.
var actionColumns = []string{"game_id", "lobby_id", "action_index", "actor_id", "action_type", "action_payload", "recorded_at"}

// AuditStore persists audit records into Postgres.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}

// WriteBatch stores recs in one transaction: game rows are upserted, actions
// are copied in, and games whose end record is in the batch are completed.
func (s *AuditStore) WriteBatch(ctx context.Context, recs []models.AuditRecord) error {
	if len(recs) == 0 {
		return nil
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, g := range gamesIn(recs) {
			upsertGame := `
				INSERT INTO games (id, lobby_id, status, start_time)
				VALUES ($1, $2, 'in_progress', NOW())
				ON CONFLICT (id) DO NOTHING
			`
			if _, err := tx.Exec(ctx, upsertGame, g.GameID, g.LobbyID); err != nil {
				return fmt.Errorf("upsert game %s: %w", g.GameID, err)
			}
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"game_actions"}, actionColumns, pgx.CopyFromRows(actionRows(recs))); err != nil {
			return fmt.Errorf("copy game_actions: %w", err)
		}

		for _, rec := range recs {
			if rec.ActionType != models.AuditGameEnd {
				continue
			}
			finalize := `
				UPDATE games
				SET status = 'completed', end_time = $2, winner_id = NULLIF($3, '')
				WHERE id = $1 AND status = 'in_progress'
			`
			if _, err := tx.Exec(ctx, finalize, rec.GameID, time.UnixMilli(rec.Timestamp), rec.ActorID); err != nil {
				return fmt.Errorf("finalize game %s: %w", rec.GameID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx write audit batch: %w", err)
	}
	return nil
}

// MarkAbandoned closes a game that stopped producing records without an end.
func (s *AuditStore) MarkAbandoned(ctx context.Context, gameID string) error {
	q := `
		UPDATE games
		SET status = 'abandoned', end_time = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`
	if _, err := s.pool.Exec(ctx, q, gameID); err != nil {
		return fmt.Errorf("mark game %s abandoned: %w", gameID, err)
	}
	return nil
}

type gameRef struct {
	GameID  string
	LobbyID string
}

// gamesIn lists the distinct games of recs in first-seen order.
func gamesIn(recs []models.AuditRecord) []gameRef {
	seen := make(map[string]bool)
	var out []gameRef
	for _, r := range recs {
		if seen[r.GameID] {
			continue
		}
		seen[r.GameID] = true
		out = append(out, gameRef{GameID: r.GameID, LobbyID: r.LobbyID})
	}
	return out
}

func actionRows(recs []models.AuditRecord) [][]interface{} {
	rows := make([][]interface{}, 0, len(recs))
	for _, r := range recs {
		var payload interface{}
		if len(r.Payload) > 0 {
			payload = []byte(r.Payload)
		}
		rows = append(rows, []interface{}{
			r.GameID,
			r.LobbyID,
			int32(r.ActionIndex),
			r.ActorID,
			r.ActionType,
			payload,
			time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return rows
}
