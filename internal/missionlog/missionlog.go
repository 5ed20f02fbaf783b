// File: internal/missionlog/missionlog.go
// Description: Append-only persistence of every turn. The sink is chosen by
// configuration: a local JSON-lines file or a Postgres table. Either record
// is complete enough to reconstruct compaction summaries offline.
package missionlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// New builds the configured mission log sink.
func New(ctx context.Context, cfg config.MissionLogConfig, logger *zap.Logger) (schemas.MissionLog, error) {
	switch cfg.Sink {
	case "file":
		return NewFileLog(cfg.Path, logger)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPGLog(ctx, pool, logger)
	default:
		return nil, fmt.Errorf("unknown mission log sink %q", cfg.Sink)
	}
}
