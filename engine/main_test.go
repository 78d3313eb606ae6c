package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ftahirops/xmem/model"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const mib = 1024 * 1024

// monday10 is Monday 2026-03-02 10:30 UTC.
var monday10 = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func snap(app string, usage, fgMs int64, at time.Time) model.TelemetrySnapshot {
	return model.TelemetrySnapshot{
		AppID:            app,
		MemoryUsageBytes: usage,
		ForegroundTimeMs: fgMs,
		SampledAtEpochMs: at.UnixMilli(),
	}
}

// recordingEffector logs every call as a string and can fail on demand.
type recordingEffector struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	// when block is set, TerminateBackgroundProcesses closes entered once
	// and waits on block
	block   chan struct{}
	entered chan struct{}
	once    sync.Once
	// onTerminate runs after a terminate call is recorded
	onTerminate func(appID string)
}

func (r *recordingEffector) record(call string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.fail[call]
}

func (r *recordingEffector) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingEffector) TerminateBackgroundProcesses(ctx context.Context, appID string) error {
	if r.block != nil {
		r.once.Do(func() { close(r.entered) })
		<-r.block
	}
	err := r.record("terminate:" + appID)
	if r.onTerminate != nil {
		r.onTerminate(appID)
	}
	return err
}

func (r *recordingEffector) ClearCaches(ctx context.Context) error {
	return r.record("clear_caches")
}

func (r *recordingEffector) SetMemoryCap(ctx context.Context, appID string, bytes int64) error {
	return r.record(fmt.Sprintf("cap:%s:%d", appID, bytes))
}

func (r *recordingEffector) CompressInactiveData(ctx context.Context) error {
	return r.record("compress")
}

func (r *recordingEffector) Defragment(ctx context.Context) error {
	return r.record("defragment")
}

func (r *recordingEffector) OptimizeServices(ctx context.Context) error {
	return r.record("optimize_services")
}

// prioritizingEffector also implements Prioritizer.
type prioritizingEffector struct {
	recordingEffector
}

func (p *prioritizingEffector) PrioritizeApp(ctx context.Context, appID string) error {
	return p.record("prioritize:" + appID)
}

func (p *prioritizingEffector) AllocateExtraMemory(ctx context.Context, appID string) error {
	return p.record("extra:" + appID)
}
