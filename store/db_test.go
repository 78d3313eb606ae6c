package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ engine.Journal = (*DB)(nil)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaVersion(t *testing.T) {
	db := openTest(t)
	v, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)

	for _, table := range []string{"schema_versions", "runs", "leak_episodes"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestOpenFileReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordRun(context.Background(), &model.PipelineReport{
		ID: "r1", Trigger: model.TriggerManual, StartedAt: time.UnixMilli(1000), FinishedAt: time.UnixMilli(2000),
	}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].ID)
}

func TestRuns(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i, trig := range []string{model.TriggerPrediction, model.TriggerManual, model.TriggerManual} {
		rep := &model.PipelineReport{
			ID:         string(rune('a' + i)),
			Trigger:    trig,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Apps:       i,
			Stages: []model.StageResult{
				{Stage: model.StageTrim, Ran: true, Targets: []string{"x"}, Errors: []string{"boom"}},
			},
		}
		require.NoError(t, db.RecordRun(ctx, rep))
	}

	runs, err := db.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID, "newest first")
	assert.Equal(t, []string{"x"}, runs[0].Stages[0].Targets)

	manual, err := db.ListRuns(ctx, RunFilter{Trigger: model.TriggerManual, Limit: 1})
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.Equal(t, "c", manual[0].ID)

	since, err := db.ListRuns(ctx, RunFilter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	counts, err := db.CountRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{model.TriggerPrediction: 1, model.TriggerManual: 2}, counts)

	n, err := db.PruneRuns(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRunRejectsUnknownTrigger(t *testing.T) {
	db := openTest(t)
	err := db.RecordRun(context.Background(), &model.PipelineReport{ID: "x", Trigger: "cron"})
	assert.Error(t, err)
}

func TestEpisodesUpsert(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ep := model.LeakEpisode{ID: "leak-1", AppID: "a", StartTime: start, PeakTrend: 0.06, LastTrend: 0.06, Cycles: 1, Active: true}
	require.NoError(t, db.RecordEpisode(ctx, ep))
	require.NoError(t, db.RecordEpisode(ctx, model.LeakEpisode{ID: "leak-2", AppID: "b", StartTime: start.Add(time.Minute), Active: true}))

	ep.Active = false
	ep.EndTime = start.Add(10 * time.Minute)
	ep.Cycles = 3
	ep.PeakTrend = 0.08
	require.NoError(t, db.RecordEpisode(ctx, ep))

	all, err := db.ListEpisodes(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "leak-2", all[0].ID)
	assert.True(t, all[0].Active)
	assert.True(t, all[0].EndTime.IsZero())

	onlyA, err := db.ListEpisodes(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	got := onlyA[0]
	assert.False(t, got.Active)
	assert.Equal(t, 3, got.Cycles)
	assert.InDelta(t, 0.08, got.PeakTrend, 1e-12)
	assert.Equal(t, 600, got.Duration)
	assert.True(t, got.StartTime.Equal(start))
}
