package engine

import (
	"sort"
	"time"

	"github.com/ftahirops/xmem/model"
)

// DefaultTopConsumers is how many apps an analysis singles out.
const DefaultTopConsumers = 5

// Analyze breaks memory down by app. Distribution lists every app by usage,
// largest first; Largest is its first topN entries.
func Analyze(now time.Time, apps []model.TelemetrySnapshot, mem model.SystemMemoryState, topN int) model.MemoryAnalysis {
	if topN <= 0 {
		topN = DefaultTopConsumers
	}
	dist := make([]model.Consumer, 0, len(apps))
	for _, a := range apps {
		c := model.Consumer{AppID: a.AppID, Bytes: a.MemoryUsageBytes}
		if mem.TotalBytes > 0 {
			c.Pct = float64(a.MemoryUsageBytes) / float64(mem.TotalBytes) * 100
		}
		dist = append(dist, c)
	}
	sort.SliceStable(dist, func(i, j int) bool {
		if dist[i].Bytes != dist[j].Bytes {
			return dist[i].Bytes > dist[j].Bytes
		}
		return dist[i].AppID < dist[j].AppID
	})
	largest := dist
	if len(largest) > topN {
		largest = largest[:topN]
	}
	return model.MemoryAnalysis{
		Timestamp:    now,
		Memory:       mem,
		Distribution: dist,
		Largest:      append([]model.Consumer(nil), largest...),
	}
}
