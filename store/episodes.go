package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ftahirops/xmem/model"
)

// RecordEpisode inserts a leak episode or updates it when it closes.
func (db *DB) RecordEpisode(ctx context.Context, ep model.LeakEpisode) error {
	var end *int64
	if !ep.EndTime.IsZero() {
		ms := ep.EndTime.UnixMilli()
		end = &ms
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO leak_episodes (id, app_id, start_time, end_time, peak_trend, last_trend, peak_usage, cycles, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_time   = excluded.end_time,
			peak_trend = excluded.peak_trend,
			last_trend = excluded.last_trend,
			peak_usage = excluded.peak_usage,
			cycles     = excluded.cycles,
			active     = excluded.active
	`, ep.ID, ep.AppID, ep.StartTime.UnixMilli(), end, ep.PeakTrend, ep.LastTrend,
		ep.PeakUsage, ep.Cycles, boolInt(ep.Active))
	if err != nil {
		return fmt.Errorf("upsert episode %s: %w", ep.ID, err)
	}
	return nil
}

// ListEpisodes returns episodes, newest first. An empty app matches all.
func (db *DB) ListEpisodes(ctx context.Context, app string, limit int) ([]model.LeakEpisode, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, app_id, start_time, end_time, peak_trend, last_trend, peak_usage, cycles, active
		FROM leak_episodes`
	var args []any
	if app != "" {
		query += " WHERE app_id = ?"
		args = append(args, app)
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []model.LeakEpisode
	for rows.Next() {
		var (
			ep     model.LeakEpisode
			start  int64
			end    sql.NullInt64
			active int
		)
		if err := rows.Scan(&ep.ID, &ep.AppID, &start, &end, &ep.PeakTrend, &ep.LastTrend,
			&ep.PeakUsage, &ep.Cycles, &active); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.StartTime = time.UnixMilli(start)
		if end.Valid {
			ep.EndTime = time.UnixMilli(end.Int64)
			ep.Duration = int(ep.EndTime.Sub(ep.StartTime).Seconds())
		}
		ep.Active = active != 0
		out = append(out, ep)
	}
	return out, rows.Err()
}
