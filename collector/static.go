package collector

import (
	"context"
	"sync"
	"time"

	"github.com/ftahirops/xmem/model"
)

// Static is an in-memory Source. Memory reads can be queued so that each
// call returns the next state, which lets callers script how memory changes
// between pipeline stages.
type Static struct {
	mu           sync.Mutex
	apps         []model.TelemetrySnapshot
	history      []model.TelemetrySnapshot
	memory       model.SystemMemoryState
	memoryQueue  []model.SystemMemoryState
	telemetryErr error
	memoryErr    error

	telemetryReads int
	memoryReads    int
}

// NewStatic creates a source reporting mem and apps.
func NewStatic(mem model.SystemMemoryState, apps ...model.TelemetrySnapshot) *Static {
	return &Static{memory: mem, apps: apps}
}

func (s *Static) Name() string { return "static" }

// SetApps replaces the telemetry returned by QueryTelemetry.
func (s *Static) SetApps(apps ...model.TelemetrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = apps
}

// SetMemory sets the memory state returned once the queue is drained.
func (s *Static) SetMemory(mem model.SystemMemoryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = mem
}

// QueueMemory queues states returned by successive memory reads.
func (s *Static) QueueMemory(states ...model.SystemMemoryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryQueue = append(s.memoryQueue, states...)
}

// SetHistory sets the samples returned by QueryHistory.
func (s *Static) SetHistory(history ...model.TelemetrySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = history
}

// FailTelemetry makes QueryTelemetry return err (nil clears it).
func (s *Static) FailTelemetry(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetryErr = err
}

// FailMemory makes QuerySystemMemory return err (nil clears it).
func (s *Static) FailMemory(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryErr = err
}

func (s *Static) QueryTelemetry(ctx context.Context) ([]model.TelemetrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetryReads++
	if s.telemetryErr != nil {
		return nil, s.telemetryErr
	}
	out := make([]model.TelemetrySnapshot, len(s.apps))
	copy(out, s.apps)
	return out, nil
}

func (s *Static) QuerySystemMemory(ctx context.Context) (model.SystemMemoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryReads++
	if s.memoryErr != nil {
		return model.SystemMemoryState{}, s.memoryErr
	}
	if len(s.memoryQueue) > 0 {
		m := s.memoryQueue[0]
		s.memoryQueue = s.memoryQueue[1:]
		return m, nil
	}
	return s.memory, nil
}

func (s *Static) QueryHistory(ctx context.Context, since time.Time) ([]model.TelemetrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := since.UnixMilli()
	var out []model.TelemetrySnapshot
	for _, snap := range s.history {
		if snap.SampledAtEpochMs >= cutoff {
			out = append(out, snap)
		}
	}
	return out, nil
}

// TelemetryReads returns how many times QueryTelemetry was called.
func (s *Static) TelemetryReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetryReads
}

// MemoryReads returns how many times QuerySystemMemory was called.
func (s *Static) MemoryReads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryReads
}
