package collector

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/ftahirops/xmem/model"
)

// recordFrame is one telemetry sample written to disk.
type recordFrame struct {
	Timestamp time.Time                 `json:"ts"`
	Memory    model.SystemMemoryState   `json:"memory"`
	Apps      []model.TelemetrySnapshot `json:"apps"`
}

// Recorder wraps a Source and records every telemetry read as a JSON line.
type Recorder struct {
	inner  Source
	writer *json.Encoder
	mu     sync.Mutex
}

// NewRecorder creates a recorder that writes JSON lines to w.
func NewRecorder(inner Source, w io.Writer) *Recorder {
	return &Recorder{
		inner:  inner,
		writer: json.NewEncoder(w),
	}
}

func (r *Recorder) Name() string { return r.inner.Name() + "+record" }

// QueryTelemetry reads from the wrapped source and records the frame.
// Recording failures never fail the read. A frame whose memory read fails
// is not recorded, since replaying it would report zero total memory.
func (r *Recorder) QueryTelemetry(ctx context.Context) ([]model.TelemetrySnapshot, error) {
	apps, err := r.inner.QueryTelemetry(ctx)
	if err != nil {
		return nil, err
	}
	mem, err := r.inner.QuerySystemMemory(ctx)
	if err != nil {
		return apps, nil
	}
	r.mu.Lock()
	_ = r.writer.Encode(recordFrame{
		Timestamp: time.Now(),
		Memory:    mem,
		Apps:      apps,
	})
	r.mu.Unlock()
	return apps, nil
}

func (r *Recorder) QuerySystemMemory(ctx context.Context) (model.SystemMemoryState, error) {
	return r.inner.QuerySystemMemory(ctx)
}

// Player replays recorded frames. Each telemetry read advances one frame;
// once the recording is exhausted the last frame repeats.
type Player struct {
	frames []recordFrame
	idx    int
	mu     sync.Mutex
}

// NewPlayer loads a recording (JSON lines). Malformed lines are skipped.
func NewPlayer(r io.Reader) (*Player, error) {
	dec := json.NewDecoder(r)
	var frames []recordFrame
	for {
		var frame recordFrame
		if err := dec.Decode(&frame); err != nil {
			if err == io.EOF {
				break
			}
			if _, ok := err.(*json.SyntaxError); ok {
				// the decoder cannot resync after a syntax error
				break
			}
			continue
		}
		frames = append(frames, frame)
	}
	return &Player{frames: frames}, nil
}

func (p *Player) Name() string { return "replay" }

func (p *Player) QueryTelemetry(ctx context.Context) ([]model.TelemetrySnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return nil, ErrNoData
	}
	if p.idx < len(p.frames) {
		p.idx++
	}
	f := p.frames[p.idx-1]
	out := make([]model.TelemetrySnapshot, len(f.Apps))
	copy(out, f.Apps)
	return out, nil
}

// QuerySystemMemory returns the memory of the current frame.
func (p *Player) QuerySystemMemory(ctx context.Context) (model.SystemMemoryState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return model.SystemMemoryState{}, ErrNoData
	}
	i := p.idx - 1
	if i < 0 {
		i = 0
	}
	return p.frames[i].Memory, nil
}

// QueryHistory returns every replayed sample taken at or after since.
func (p *Player) QueryHistory(ctx context.Context, since time.Time) ([]model.TelemetrySnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := since.UnixMilli()
	var out []model.TelemetrySnapshot
	for _, f := range p.frames[:p.idx] {
		for _, a := range f.Apps {
			if a.SampledAtEpochMs >= cutoff {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// Len returns the number of frames available.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

// Index returns the number of frames replayed so far.
func (p *Player) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idx
}
