package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "runs: optimization pipeline executions",
		SQL: `
CREATE TABLE runs (
    id           TEXT PRIMARY KEY,
    cause        TEXT NOT NULL CHECK (cause IN ('prediction', 'manual', 'periodic')),
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    apps         INTEGER NOT NULL DEFAULT 0,
    error_count  INTEGER NOT NULL DEFAULT 0,
    cancelled    INTEGER NOT NULL DEFAULT 0,
    report       TEXT NOT NULL
);

CREATE INDEX idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX idx_runs_cause      ON runs(cause);
`,
	},
	{
		Version:     2,
		Description: "leak_episodes: sustained growth per app",
		SQL: `
CREATE TABLE leak_episodes (
    id           TEXT PRIMARY KEY,
    app_id       TEXT NOT NULL,
    start_time   INTEGER NOT NULL,
    end_time     INTEGER,
    peak_trend   REAL NOT NULL,
    last_trend   REAL NOT NULL,
    peak_usage   INTEGER NOT NULL DEFAULT 0,
    cycles       INTEGER NOT NULL DEFAULT 0,
    active       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX idx_episodes_app    ON leak_episodes(app_id);
CREATE INDEX idx_episodes_start  ON leak_episodes(start_time DESC);
CREATE INDEX idx_episodes_active ON leak_episodes(active);
`,
	},
}

func (db *DB) migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
