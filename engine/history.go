package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/xmem/model"
	"k8s.io/utils/clock"
)

// DefaultHistoryHorizon is how far back usage samples stay relevant.
const DefaultHistoryHorizon = 7 * 24 * time.Hour

// History holds per-app telemetry ordered by sample time. Samples older
// than the horizon are pruned on write and ignored on read.
type History struct {
	series  map[string][]model.TelemetrySnapshot
	horizon time.Duration
	clock   clock.PassiveClock
	mu      sync.RWMutex
}

// NewHistory creates an empty store with the given horizon.
func NewHistory(horizon time.Duration, clk clock.PassiveClock) *History {
	if horizon <= 0 {
		horizon = DefaultHistoryHorizon
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &History{
		series:  make(map[string][]model.TelemetrySnapshot),
		horizon: horizon,
		clock:   clk,
	}
}

func (h *History) cutoff() int64 {
	return h.clock.Now().Add(-h.horizon).UnixMilli()
}

// Record appends a sample, keeping the app's series ordered by sample time.
func (h *History) Record(snap model.TelemetrySnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.insert(snap)
	h.prune(snap.AppID, h.cutoff())
}

// Rebuild replaces the whole index with snaps.
func (h *History) Rebuild(snaps []model.TelemetrySnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series = make(map[string][]model.TelemetrySnapshot)
	for _, s := range snaps {
		h.insert(s)
	}
	cutoff := h.cutoff()
	for app := range h.series {
		h.prune(app, cutoff)
	}
}

func (h *History) insert(snap model.TelemetrySnapshot) {
	s := h.series[snap.AppID]
	// insert after any sample with the same timestamp
	i := sort.Search(len(s), func(i int) bool {
		return s[i].SampledAtEpochMs > snap.SampledAtEpochMs
	})
	s = append(s, model.TelemetrySnapshot{})
	copy(s[i+1:], s[i:])
	s[i] = snap
	h.series[snap.AppID] = s
}

func (h *History) prune(app string, cutoff int64) {
	s := h.series[app]
	i := sort.Search(len(s), func(i int) bool {
		return s[i].SampledAtEpochMs >= cutoff
	})
	switch {
	case i == len(s):
		delete(h.series, app)
	case i > 0:
		h.series[app] = append([]model.TelemetrySnapshot(nil), s[i:]...)
	}
}

// BucketedAverage returns the mean foreground time of the app's live samples
// taken in bucket. ok is false when no sample matches.
func (h *History) BucketedAverage(app string, bucket model.TimeBucket) (avg float64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cutoff := h.cutoff()
	var sum float64
	n := 0
	for _, s := range h.series[app] {
		if s.SampledAtEpochMs < cutoff {
			continue
		}
		if model.BucketOf(s.SampledAt().In(h.clock.Now().Location())) != bucket {
			continue
		}
		sum += float64(s.ForegroundTimeMs)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Apps returns the apps that have at least one sample, sorted.
func (h *History) Apps() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	apps := make([]string, 0, len(h.series))
	for app := range h.series {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}

// Len returns the number of samples stored for app.
func (h *History) Len(app string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[app])
}

// Series returns a copy of the app's samples, oldest first.
func (h *History) Series(app string) []model.TelemetrySnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.series[app]
	out := make([]model.TelemetrySnapshot, len(s))
	copy(out, s)
	return out
}
