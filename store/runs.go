package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ftahirops/xmem/model"
)

// RecordRun stores a finished pipeline report.
func (db *DB) RecordRun(ctx context.Context, rep *model.PipelineReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", rep.ID, err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, cause, started_at, finished_at, apps, error_count, cancelled, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			error_count = excluded.error_count,
			cancelled   = excluded.cancelled,
			report      = excluded.report
	`, rep.ID, rep.Trigger, rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli(),
		rep.Apps, rep.ErrorCount(), boolInt(rep.Cancelled), string(data))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rep.ID, err)
	}
	return nil
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Trigger string    // empty matches all
	Since   time.Time // zero matches all
	Limit   int       // <= 0 means 50
}

// ListRuns returns stored runs, newest first.
func (db *DB) ListRuns(ctx context.Context, f RunFilter) ([]model.PipelineReport, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := "SELECT report FROM runs WHERE 1=1"
	var args []any
	if f.Trigger != "" {
		query += " AND cause = ?"
		args = append(args, f.Trigger)
	}
	if !f.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []model.PipelineReport
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var rep model.PipelineReport
		if err := json.Unmarshal([]byte(raw), &rep); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// CountRuns returns the number of stored runs per trigger.
func (db *DB) CountRuns(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT cause, COUNT(*) FROM runs GROUP BY cause")
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var cause string
		var n int
		if err := rows.Scan(&cause, &n); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		out[cause] = n
	}
	return out, rows.Err()
}

// PruneRuns deletes runs started before cutoff and returns how many went.
func (db *DB) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
