package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest migration this build knows about
const SchemaVersion = 2

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS connections (
  id TEXT PRIMARY KEY,
  node_a TEXT NOT NULL,
  node_b TEXT NOT NULL,
  pair_key TEXT NOT NULL,
  type TEXT NOT NULL,
  metadata TEXT,
  version INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_connections_pair ON connections(pair_key);

CREATE TABLE IF NOT EXISTS connection_history (
  id TEXT PRIMARY KEY,
  connection_id TEXT,
  node_a TEXT NOT NULL,
  node_b TEXT NOT NULL,
  pair_key TEXT NOT NULL,
  change_type TEXT NOT NULL,
  actor_id TEXT NOT NULL,
  actor_display_name TEXT NOT NULL DEFAULT '',
  before_state TEXT,
  after_state TEXT,
  metadata TEXT,
  reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_pair ON connection_history(pair_key, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_history_actor ON connection_history(actor_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_history_node_a ON connection_history(node_a);
CREATE INDEX IF NOT EXISTS idx_history_node_b ON connection_history(node_b);
CREATE INDEX IF NOT EXISTS idx_history_created ON connection_history(created_at);
`,
	},
	{
		// pair keys escape '\' and '|' inside node ids
		version: 2,
		sql: `
UPDATE connections SET pair_key = ` + escapedPairKeySQL + `
WHERE instr(node_a, '|') > 0 OR instr(node_b, '|') > 0 OR instr(node_a, '\') > 0 OR instr(node_b, '\') > 0;
UPDATE connection_history SET pair_key = ` + escapedPairKeySQL + `
WHERE instr(node_a, '|') > 0 OR instr(node_b, '|') > 0 OR instr(node_a, '\') > 0 OR instr(node_b, '\') > 0;
`,
	},
}

// escapedPairKeySQL mirrors valueobjects.PairKey for the node_a and node_b columns
const escapedPairKeySQL = `CASE WHEN node_b < node_a
  THEN replace(replace(node_b, '\', '\\'), '|', '\|') || '|' || replace(replace(node_a, '\', '\\'), '|', '\|')
  ELSE replace(replace(node_a, '\', '\\'), '|', '\|') || '|' || replace(replace(node_b, '\', '\\'), '|', '\|')
END`

// EnsureSchema applies pending migrations in order
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP)
);
`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_migrations version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than supported version %d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
