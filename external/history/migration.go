package history

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// History metadata and transcriptions live in one table partitioned by the
// history id. The metadata row carries row_key = partition_key and
// entity_type 'history'; transcription rows hang off the same partition_key
// with their own id and keep their chunks as one JSONB blob. The version
// column backs the preconditioned transcription updates.
var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE history_entity_type AS ENUM ('history', 'transcription'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS history_entries (
		partition_key UUID NOT NULL,
		row_key UUID NOT NULL,
		entity_type history_entity_type NOT NULL,
		user_id TEXT,
		session_id TEXT,
		history_type TEXT,
		visible BOOLEAN NOT NULL DEFAULT TRUE,
		file_name TEXT,
		file_name_original TEXT,
		language TEXT,
		model TEXT,
		temperature DOUBLE PRECISION,
		diarization TEXT,
		combine_channels TEXT,
		analysis TEXT,
		status TEXT,
		transcript_chunks JSONB,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (partition_key, row_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entries_user ON history_entries (user_id) WHERE entity_type = 'history'`,
	`CREATE INDEX IF NOT EXISTS idx_history_entries_session ON history_entries (session_id) WHERE entity_type = 'history'`,
	`CREATE INDEX IF NOT EXISTS idx_history_entries_created ON history_entries (created_at DESC) WHERE entity_type = 'history'`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
