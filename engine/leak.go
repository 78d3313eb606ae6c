package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ftahirops/xmem/model"
)

const (
	// LeakWindowSize is the fixed number of samples a trend is computed over.
	LeakWindowSize = 10
	// DefaultLeakThreshold is the normalized trend above which an app is flagged.
	DefaultLeakThreshold = 0.05
	// DefaultStaleCycles is how many cycles an app may be missing from
	// telemetry before its window is dropped.
	DefaultStaleCycles = 3
)

// leakWindow is a fixed-capacity FIFO ring of usage samples.
type leakWindow struct {
	buf  []int64
	head int
	size int
}

func newLeakWindow(capacity int) *leakWindow {
	return &leakWindow{buf: make([]int64, capacity)}
}

// push adds v, evicting the oldest sample once full.
func (w *leakWindow) push(v int64) {
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	if w.size < len(w.buf) {
		w.size++
	}
}

func (w *leakWindow) full() bool { return w.size == len(w.buf) }

// values returns the samples oldest first.
func (w *leakWindow) values() []int64 {
	out := make([]int64, w.size)
	start := (w.head - w.size + len(w.buf)) % len(w.buf)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(start+i)%len(w.buf)]
	}
	return out
}

// LeakDetector keeps a rolling usage window per app and flags apps whose
// normalized least-squares trend exceeds a threshold.
type LeakDetector struct {
	windows     map[string]*leakWindow
	missed      map[string]int
	threshold   float64
	staleCycles int
	mu          sync.Mutex
}

// NewLeakDetector creates a detector. Non-positive arguments take defaults.
func NewLeakDetector(threshold float64, staleCycles int) *LeakDetector {
	if threshold <= 0 {
		threshold = DefaultLeakThreshold
	}
	if staleCycles <= 0 {
		staleCycles = DefaultStaleCycles
	}
	return &LeakDetector{
		windows:     make(map[string]*leakWindow),
		missed:      make(map[string]int),
		threshold:   threshold,
		staleCycles: staleCycles,
	}
}

// Observe records one usage sample for app.
func (d *LeakDetector) Observe(app string, usage int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windows[app]
	if w == nil {
		w = newLeakWindow(LeakWindowSize)
		d.windows[app] = w
	}
	w.push(usage)
	delete(d.missed, app)
}

// Sweep ages out apps absent from seen. A window is dropped once the app
// has been missing for more than staleCycles consecutive sweeps.
func (d *LeakDetector) Sweep(seen map[string]struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for app := range d.windows {
		if _, ok := seen[app]; ok {
			continue
		}
		d.missed[app]++
		if d.missed[app] > d.staleCycles {
			delete(d.windows, app)
			delete(d.missed, app)
		}
	}
}

// Forget drops app's window immediately.
func (d *LeakDetector) Forget(app string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, app)
	delete(d.missed, app)
}

// Detect returns a verdict for every full window whose trend exceeds the
// threshold, sorted by app. Partial windows and zero-mean windows yield
// nothing.
func (d *LeakDetector) Detect() []model.LeakVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()
	var verdicts []model.LeakVerdict
	for app, w := range d.windows {
		if !w.full() {
			continue
		}
		trend, err := Trend(w.values())
		if err != nil {
			continue
		}
		if trend > d.threshold {
			verdicts = append(verdicts, model.LeakVerdict{AppID: app, Trend: trend})
		}
	}
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].AppID < verdicts[j].AppID })
	return verdicts
}

// Window returns a copy of app's current samples, oldest first.
func (d *LeakDetector) Window(app string) []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	w := d.windows[app]
	if w == nil {
		return nil
	}
	return w.values()
}

// Trend returns the least-squares slope of samples against their index,
// divided by the samples' mean. The index stands in for time, which
// assumes a roughly uniform sampling cadence. It returns
// ErrDegenerateStatistic for fewer than two samples or a zero mean.
func Trend(samples []int64) (float64, error) {
	n := float64(len(samples))
	if len(samples) < 2 {
		return 0, fmt.Errorf("%w: %d samples", ErrDegenerateStatistic, len(samples))
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range samples {
		x := float64(i)
		y := float64(v)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	mean := sumY / n
	if mean == 0 {
		return 0, fmt.Errorf("%w: zero mean", ErrDegenerateStatistic)
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	return slope / mean, nil
}
