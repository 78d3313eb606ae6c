package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/ftahirops/xmem/model"
	"github.com/ftahirops/xmem/util"
	"k8s.io/utils/clock"
)

// userHZ is the kernel's USER_HZ, fixed at 100 on every mainstream arch.
const userHZ = 100

// Procfs reads system memory from /proc/meminfo and per-app usage from
// /proc/[pid]. Processes are grouped into apps by command name; an app's
// memory is the sum of its VmRSS and its foreground time is its summed
// utime+stime, the closest server-side analogue of foreground activity.
type Procfs struct {
	Root           string
	MaxApps        int     // keep the N largest apps by memory
	LowMemoryRatio float64 // LowMemory is set when available < ratio × total
	// PressureThreshold also sets LowMemory when PSI memory full avg10 is at
	// or above it. 0 disables the check.
	PressureThreshold float64
	Clock             clock.PassiveClock
}

// NewProcfs creates a procfs source rooted at root ("/proc" when empty).
func NewProcfs(root string, maxApps int, lowMemoryRatio float64) *Procfs {
	if root == "" {
		root = util.DefaultProcRoot
	}
	if maxApps <= 0 {
		maxApps = 50
	}
	return &Procfs{
		Root:              root,
		MaxApps:           maxApps,
		LowMemoryRatio:    lowMemoryRatio,
		PressureThreshold: DefaultPressureThreshold,
		Clock:             clock.RealClock{},
	}
}

func (p *Procfs) Name() string { return "procfs" }

// QuerySystemMemory reads MemTotal and MemAvailable, plus memory pressure
// where the kernel exposes it.
func (p *Procfs) QuerySystemMemory(ctx context.Context) (model.SystemMemoryState, error) {
	var state model.SystemMemoryState
	if err := ctx.Err(); err != nil {
		return state, err
	}
	path := filepath.Join(p.Root, "meminfo")
	kv, err := util.ParseKeyValueFile(path)
	if err != nil {
		return state, fmt.Errorf("read %s: %w", path, err)
	}
	total := util.ParseKB(kv["MemTotal"])
	if total == 0 {
		return state, fmt.Errorf("read %s: MemTotal missing", path)
	}
	avail, ok := kv["MemAvailable"]
	var available uint64
	if ok {
		available = util.ParseKB(avail)
	} else {
		// pre-3.14 kernels
		available = util.ParseKB(kv["MemFree"]) + util.ParseKB(kv["Buffers"]) + util.ParseKB(kv["Cached"])
	}
	state.TotalBytes = int64(total)
	state.AvailableBytes = int64(available)
	state.LowMemory = state.Below(p.LowMemoryRatio)
	if p.PressureThreshold > 0 {
		if mp, err := ReadMemoryPressure(p.Root); err == nil {
			state.PressureFull = mp.Full.Avg10
			if mp.Full.Avg10 >= p.PressureThreshold {
				state.LowMemory = true
			}
		}
	}
	return state, nil
}

// QueryTelemetry samples every process and folds them into per-app rows.
func (p *Procfs) QueryTelemetry(ctx context.Context) ([]model.TelemetrySnapshot, error) {
	pids, err := util.PIDs(p.Root)
	if err != nil {
		return nil, err
	}
	now := p.Clock.Now().UnixMilli()

	type agg struct {
		rss   uint64
		ticks uint64
	}
	apps := make(map[string]*agg)
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := util.ReadStat(p.Root, pid)
		if err != nil {
			continue // process may have exited
		}
		rss, err := util.ReadRSS(p.Root, pid)
		if err != nil || rss == 0 {
			continue
		}
		a := apps[st.Comm]
		if a == nil {
			a = &agg{}
			apps[st.Comm] = a
		}
		a.rss += rss
		a.ticks += st.UTime + st.STime
	}

	out := make([]model.TelemetrySnapshot, 0, len(apps))
	for name, a := range apps {
		out = append(out, model.TelemetrySnapshot{
			AppID:            name,
			MemoryUsageBytes: int64(a.rss),
			ForegroundTimeMs: int64(a.ticks * 1000 / userHZ),
			SampledAtEpochMs: now,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MemoryUsageBytes != out[j].MemoryUsageBytes {
			return out[i].MemoryUsageBytes > out[j].MemoryUsageBytes
		}
		return out[i].AppID < out[j].AppID
	})
	if len(out) > p.MaxApps {
		out = out[:p.MaxApps]
	}
	return out, nil
}
