package engine

import (
	"testing"

	"github.com/ftahirops/xmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeTopConsumers(t *testing.T) {
	var apps []model.TelemetrySnapshot
	for i, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		apps = append(apps, snap(name, int64(i+1)*100, 0, monday10))
	}
	apps = append(apps, snap("tie", 700, 0, monday10))
	mem := model.SystemMemoryState{TotalBytes: 10_000, AvailableBytes: 5000}

	a := Analyze(monday10, apps, mem, 0)

	require.Len(t, a.Distribution, 8)
	require.Len(t, a.Largest, DefaultTopConsumers)
	assert.Equal(t, "g", a.Largest[0].AppID)
	assert.Equal(t, "tie", a.Largest[1].AppID)
	assert.Equal(t, "f", a.Largest[2].AppID)
	assert.InDelta(t, 7.0, a.Largest[0].Pct, 1e-9)
	assert.Equal(t, mem, a.Memory)
}

func TestAnalyzeUnknownTotal(t *testing.T) {
	a := Analyze(monday10, []model.TelemetrySnapshot{snap("a", 1, 0, monday10)}, model.SystemMemoryState{}, 3)
	require.Len(t, a.Largest, 1)
	assert.Zero(t, a.Largest[0].Pct)
}
