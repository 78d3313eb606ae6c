package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/ftahirops/xmem/model"
	"github.com/google/uuid"
)

const defaultMaxEpisodes = 200

// EpisodeTracker turns per-cycle leak verdicts into episodes. An episode
// opens the first cycle an app is flagged and closes the first cycle it
// is not.
type EpisodeTracker struct {
	mu sync.Mutex

	active    map[string]*model.LeakEpisode
	completed []model.LeakEpisode
	max       int // completed episodes kept in memory
}

// NewEpisodeTracker creates a tracker.
func NewEpisodeTracker() *EpisodeTracker {
	return &EpisodeTracker{
		active: make(map[string]*model.LeakEpisode),
		max:    defaultMaxEpisodes,
	}
}

// Process folds one cycle's verdicts in. usage supplies the apps' current
// memory for peak tracking. It returns the episodes opened and closed by
// this cycle.
func (t *EpisodeTracker) Process(now time.Time, verdicts []model.LeakVerdict, usage map[string]int64) (opened, closed []model.LeakEpisode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	flagged := make(map[string]struct{}, len(verdicts))
	var fresh []*model.LeakEpisode
	for _, v := range verdicts {
		flagged[v.AppID] = struct{}{}
		ep := t.active[v.AppID]
		if ep == nil {
			ep = &model.LeakEpisode{
				ID:        "leak-" + uuid.NewString(),
				AppID:     v.AppID,
				StartTime: now,
				Active:    true,
			}
			t.active[v.AppID] = ep
			fresh = append(fresh, ep)
		}
		ep.Cycles++
		ep.LastTrend = v.Trend
		if v.Trend > ep.PeakTrend {
			ep.PeakTrend = v.Trend
		}
		if u := usage[v.AppID]; u > ep.PeakUsage {
			ep.PeakUsage = u
		}
	}

	for _, ep := range fresh {
		opened = append(opened, *ep)
	}

	for app, ep := range t.active {
		if _, ok := flagged[app]; ok {
			continue
		}
		ep.Active = false
		ep.EndTime = now
		ep.Duration = int(now.Sub(ep.StartTime).Seconds())
		closed = append(closed, *ep)
		t.completed = append(t.completed, *ep)
		delete(t.active, app)
	}
	if over := len(t.completed) - t.max; over > 0 {
		t.completed = append([]model.LeakEpisode(nil), t.completed[over:]...)
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].AppID < closed[j].AppID })
	return opened, closed
}

// Active returns copies of the open episodes, sorted by app.
func (t *EpisodeTracker) Active() []model.LeakEpisode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.LeakEpisode, 0, len(t.active))
	for _, ep := range t.active {
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}

// Completed returns closed episodes, newest first.
func (t *EpisodeTracker) Completed() []model.LeakEpisode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.LeakEpisode, len(t.completed))
	for i, ep := range t.completed {
		out[len(t.completed)-1-i] = ep
	}
	return out
}
