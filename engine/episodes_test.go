package engine

import (
	"testing"
	"time"

	"github.com/ftahirops/xmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeTracker(t *testing.T) {
	tr := NewEpisodeTracker()
	t0 := monday10

	opened, closed := tr.Process(t0, []model.LeakVerdict{{AppID: "b", Trend: 0.06}, {AppID: "a", Trend: 0.07}}, map[string]int64{"a": 10, "b": 20})
	require.Len(t, opened, 2)
	assert.Equal(t, "b", opened[0].AppID)
	assert.Equal(t, "a", opened[1].AppID)
	assert.Empty(t, closed)

	opened, closed = tr.Process(t0.Add(time.Minute), []model.LeakVerdict{{AppID: "a", Trend: 0.09}}, map[string]int64{"a": 30})
	assert.Empty(t, opened)
	require.Len(t, closed, 1)
	assert.Equal(t, "b", closed[0].AppID)
	assert.Equal(t, 60, closed[0].Duration)

	active := tr.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 2, active[0].Cycles)
	assert.InDelta(t, 0.09, active[0].PeakTrend, 1e-12)
	assert.Equal(t, int64(30), active[0].PeakUsage)

	tr.Process(t0.Add(2*time.Minute), nil, nil)
	done := tr.Completed()
	require.Len(t, done, 2)
	assert.Equal(t, "a", done[0].AppID, "newest first")
	assert.Empty(t, tr.Active())
}

func TestEpisodeTrackerBounded(t *testing.T) {
	tr := NewEpisodeTracker()
	tr.max = 3
	now := monday10
	for i := 0; i < 5; i++ {
		tr.Process(now, []model.LeakVerdict{{AppID: "a", Trend: 1}}, nil)
		now = now.Add(time.Minute)
		tr.Process(now, nil, nil)
		now = now.Add(time.Minute)
	}
	assert.Len(t, tr.Completed(), 3)
}
