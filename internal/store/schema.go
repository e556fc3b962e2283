package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// schemaVersion is stored in PRAGMA user_version.
const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS patterns (
		key              TEXT PRIMARY KEY,
		context          TEXT NOT NULL DEFAULT '',
		confidence       REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		last_outcome     TEXT NOT NULL CHECK (last_outcome IN ('success', 'failure')),
		occurrence_count INTEGER NOT NULL CHECK (occurrence_count >= 1),
		created_at       INTEGER NOT NULL,
		last_seen        INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_patterns_rank
		ON patterns (confidence DESC, occurrence_count DESC, last_seen DESC)`,
	`CREATE TABLE IF NOT EXISTS outcome_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_key TEXT NOT NULL,
		outcome     TEXT NOT NULL CHECK (outcome IN ('success', 'failure')),
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outcome_events_recorded ON outcome_events (recorded_at)`,
	`CREATE TABLE IF NOT EXISTS failures (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		task          TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		context       TEXT NOT NULL DEFAULT '',
		occurred_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_occurred ON failures (occurred_at DESC)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id               TEXT PRIMARY KEY,
		summary          TEXT NOT NULL DEFAULT '',
		success_count    INTEGER NOT NULL DEFAULT 0,
		failure_count    INTEGER NOT NULL DEFAULT 0,
		patterns_learned INTEGER NOT NULL DEFAULT 0,
		started_at       INTEGER NOT NULL,
		ended_at         INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_ended ON sessions (ended_at DESC)`,
	`CREATE TABLE IF NOT EXISTS session_state (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		session_id TEXT NOT NULL,
		started_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS causal_links (
		cause            TEXT NOT NULL,
		effect           TEXT NOT NULL,
		confidence       REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		occurrence_count INTEGER NOT NULL CHECK (occurrence_count >= 1),
		created_at       INTEGER NOT NULL,
		last_seen        INTEGER NOT NULL,
		PRIMARY KEY (cause, effect)
	)`,
}

// migrate brings the schema up to schemaVersion. A file written by a newer
// version is reported as corrupt rather than silently downgraded.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return classify("read schema version", err)
	}

	switch {
	case version == schemaVersion:
		return nil
	case version > schemaVersion:
		return fmt.Errorf("open store: %w: schema version %d is newer than supported %d",
			memory.ErrCorrupt, version, schemaVersion)
	}

	err := s.withWriteTx(ctx, "migrate schema", func(tx *sql.Tx) error {
		for _, stmt := range schemaV1 {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		// PRAGMA does not accept bound parameters.
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("store schema migrated",
		zap.Int("from", version),
		zap.Int("to", schemaVersion))
	return nil
}
