package engine

import (
	"time"

	"github.com/ftahirops/xmem/model"
)

// DefaultBytesPerHour is the headroom granted per hour of typical
// foreground activity in a time bucket.
const DefaultBytesPerHour = 100 * 1024 * 1024

const msPerHour = 3_600_000

// Allocator predicts each app's memory demand for the current time bucket
// from its usage history. The result is advisory: it feeds threshold
// comparisons and is never applied as a hard limit.
type Allocator struct {
	history      *History
	bytesPerHour float64
}

// NewAllocator creates an allocator over h.
func NewAllocator(h *History, bytesPerHour int64) *Allocator {
	if bytesPerHour <= 0 {
		bytesPerHour = DefaultBytesPerHour
	}
	return &Allocator{history: h, bytesPerHour: float64(bytesPerHour)}
}

// Predict returns predicted bytes per app for the bucket containing now.
// Apps never seen in this bucket, or seen with zero foreground time, are
// left out rather than predicted as zero.
func (a *Allocator) Predict(now time.Time) model.PredictedAllocation {
	bucket := model.BucketOf(now)
	out := make(model.PredictedAllocation)
	for _, app := range a.history.Apps() {
		avg, ok := a.history.BucketedAverage(app, bucket)
		if !ok || avg <= 0 {
			continue
		}
		out[app] = int64(avg / msPerHour * a.bytesPerHour)
	}
	return out
}
