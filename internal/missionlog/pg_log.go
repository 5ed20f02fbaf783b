// File: internal/missionlog/pg_log.go
package missionlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS mission_turns (
	id BIGSERIAL PRIMARY KEY,
	mission_id TEXT NOT NULL,
	turn_index INT NOT NULL,
	kind TEXT NOT NULL,
	provider TEXT,
	turn JSONB NOT NULL,
	logged_at TIMESTAMPTZ NOT NULL,
	UNIQUE (mission_id, turn_index)
)`

const insertTurnSQL = `
INSERT INTO mission_turns (mission_id, turn_index, kind, provider, turn, logged_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (mission_id, turn_index) DO NOTHING`

// PGLog appends turns to a Postgres table. The table is created on startup if
// missing; duplicate appends for the same turn are ignored, which makes crash
// recovery replays safe.
type PGLog struct {
	pool DBPool
	log  *zap.Logger
}

// NewPGLog verifies the connection and ensures the schema.
func NewPGLog(ctx context.Context, pool DBPool, logger *zap.Logger) (*PGLog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to ensure mission_turns table: %w", err)
	}
	return &PGLog{
		pool: pool,
		log:  logger.Named("missionlog.postgres"),
	}, nil
}

// Append inserts one turn row. The full turn is stored as JSONB alongside the
// columns queries filter on.
func (p *PGLog) Append(ctx context.Context, missionID string, turn *schemas.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = p.pool.Exec(ctx, insertTurnSQL,
		missionID,
		turn.Index,
		string(turn.Kind),
		turn.Provider,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert mission turn: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PGLog) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}
