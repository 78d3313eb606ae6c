package engine

import (
	"testing"
	"time"

	"github.com/ftahirops/xmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestHistoryRecordKeepsOrder(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(monday10)
	h := NewHistory(0, clk)

	h.Record(snap("a", 1, 30, monday10.Add(-time.Minute)))
	h.Record(snap("a", 1, 10, monday10.Add(-3*time.Minute)))
	h.Record(snap("a", 1, 20, monday10.Add(-2*time.Minute)))

	series := h.Series("a")
	require.Len(t, series, 3)
	assert.Equal(t, int64(10), series[0].ForegroundTimeMs)
	assert.Equal(t, int64(20), series[1].ForegroundTimeMs)
	assert.Equal(t, int64(30), series[2].ForegroundTimeMs)
}

func TestHistoryPrunesBeyondHorizon(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(monday10)
	h := NewHistory(24*time.Hour, clk)

	h.Record(snap("old", 1, 1, monday10.Add(-25*time.Hour)))
	h.Record(snap("a", 1, 1, monday10.Add(-25*time.Hour)))
	h.Record(snap("a", 1, 2, monday10.Add(-time.Hour)))

	assert.Equal(t, []string{"a"}, h.Apps())
	assert.Equal(t, 1, h.Len("a"))
	assert.Equal(t, 0, h.Len("old"))
}

func TestHistoryRebuildReplacesIndex(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(monday10)
	h := NewHistory(0, clk)
	h.Record(snap("gone", 1, 1, monday10))

	h.Rebuild([]model.TelemetrySnapshot{
		snap("b", 1, 5, monday10.Add(-time.Hour)),
		snap("a", 1, 5, monday10.Add(-time.Hour)),
		snap("a", 1, 5, monday10.Add(-8*24*time.Hour)),
	})

	assert.Equal(t, []string{"a", "b"}, h.Apps())
	assert.Equal(t, 1, h.Len("a"))
}

func TestHistoryBucketedAverage(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(monday10)
	h := NewHistory(0, clk)

	// same bucket one week minus a minute ago, and earlier today
	h.Record(snap("a", 1, 1000, monday10.Add(-7*24*time.Hour+time.Minute)))
	h.Record(snap("a", 1, 3000, monday10.Add(-20*time.Minute)))
	// other hour
	h.Record(snap("a", 1, 99999, monday10.Add(-time.Hour)))

	avg, ok := h.BucketedAverage("a", model.BucketOf(monday10))
	require.True(t, ok)
	assert.InDelta(t, 2000, avg, 0.001)

	_, ok = h.BucketedAverage("a", model.TimeBucket{DayOfWeek: 3, HourOfDay: 10})
	assert.False(t, ok)
	_, ok = h.BucketedAverage("missing", model.BucketOf(monday10))
	assert.False(t, ok)
}

func TestHistoryIgnoresStaleSamplesOnRead(t *testing.T) {
	clk := clocktesting.NewFakeClock(monday10)
	h := NewHistory(0, clk)
	h.Record(snap("a", 1, 1000, monday10))

	clk.Step(7*24*time.Hour + time.Minute)
	_, ok := h.BucketedAverage("a", model.BucketOf(monday10))
	assert.False(t, ok)
}
