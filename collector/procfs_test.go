package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func writeProc(t *testing.T, root string, pid int, comm string, utime, stime int, rssKB int) {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprint(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stat := fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 1 0 100 1000 10\n",
		pid, comm, pid, pid, utime, stime)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
	status := fmt.Sprintf("Name:\t%s\nVmRSS:\t%d kB\n", comm, rssKB)
	if rssKB == 0 {
		status = fmt.Sprintf("Name:\t%s\n", comm)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status), 0o644))
}

func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	meminfo := "MemTotal:       1000000 kB\nMemFree:         100000 kB\nMemAvailable:    150000 kB\nBuffers:          10000 kB\nCached:           20000 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))

	writeProc(t, root, 100, "postgres", 300, 200, 2048)
	writeProc(t, root, 101, "postgres", 100, 0, 1024)
	writeProc(t, root, 200, "web server", 50, 50, 4096)
	writeProc(t, root, 2, "kthreadd", 10, 10, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys"), 0o755))
	return root
}

func TestProcfsQuerySystemMemory(t *testing.T) {
	src := NewProcfs(fakeProc(t), 10, 0.2)

	mem, err := src.QuerySystemMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000000*1024), mem.TotalBytes)
	assert.Equal(t, int64(150000*1024), mem.AvailableBytes)
	assert.True(t, mem.LowMemory, "15 percent free is under the 20 percent watermark")
}

func TestProcfsMemAvailableFallback(t *testing.T) {
	root := t.TempDir()
	meminfo := "MemTotal: 1000 kB\nMemFree: 100 kB\nBuffers: 50 kB\nCached: 250 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))

	mem, err := NewProcfs(root, 10, 0.1).QuerySystemMemory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(400*1024), mem.AvailableBytes)
	assert.False(t, mem.LowMemory)
}

func TestProcfsQueryTelemetryGroupsByComm(t *testing.T) {
	src := NewProcfs(fakeProc(t), 10, 0.1)
	now := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	src.Clock = clocktesting.NewFakePassiveClock(now)

	apps, err := src.QueryTelemetry(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2, "kernel threads without VmRSS are skipped")

	assert.Equal(t, "web server", apps[0].AppID)
	assert.Equal(t, int64(4096*1024), apps[0].MemoryUsageBytes)
	assert.Equal(t, int64(1000), apps[0].ForegroundTimeMs)

	assert.Equal(t, "postgres", apps[1].AppID)
	assert.Equal(t, int64(3072*1024), apps[1].MemoryUsageBytes)
	assert.Equal(t, int64(6000), apps[1].ForegroundTimeMs)
	assert.Equal(t, now.UnixMilli(), apps[1].SampledAtEpochMs)
}

func TestProcfsMaxApps(t *testing.T) {
	src := NewProcfs(fakeProc(t), 1, 0.1)
	apps, err := src.QueryTelemetry(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "web server", apps[0].AppID)
}

func TestProcfsMissingRoot(t *testing.T) {
	src := NewProcfs(filepath.Join(t.TempDir(), "nope"), 10, 0.1)
	_, err := src.QueryTelemetry(context.Background())
	assert.Error(t, err)
	_, err = src.QuerySystemMemory(context.Background())
	assert.Error(t, err)
}

func TestProcfsCancelled(t *testing.T) {
	src := NewProcfs(fakeProc(t), 10, 0.1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.QueryTelemetry(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writePressure(t *testing.T, root string, full float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pressure"), 0o755))
	content := fmt.Sprintf("some avg10=%.2f avg60=1.00 avg300=0.50 total=12345\nfull avg10=%.2f avg60=0.50 avg300=0.25 total=6789\n", full*2, full)
	require.NoError(t, os.WriteFile(filepath.Join(root, "pressure", "memory"), []byte(content), 0o644))
}

func TestReadMemoryPressure(t *testing.T) {
	root := t.TempDir()
	writePressure(t, root, 4.5)

	mp, err := ReadMemoryPressure(root)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, mp.Some.Avg10, 1e-9)
	assert.InDelta(t, 4.5, mp.Full.Avg10, 1e-9)
	assert.InDelta(t, 0.25, mp.Full.Avg300, 1e-9)
	assert.Equal(t, uint64(6789), mp.Full.Total)

	_, err = ReadMemoryPressure(t.TempDir())
	assert.Error(t, err)
}

func TestProcfsPressureMarksLowMemory(t *testing.T) {
	root := t.TempDir()
	meminfo := "MemTotal: 1000 kB\nMemAvailable: 600 kB\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "meminfo"), []byte(meminfo), 0o644))

	src := NewProcfs(root, 10, 0.1)
	writePressure(t, root, 2)
	mem, err := src.QuerySystemMemory(context.Background())
	require.NoError(t, err)
	assert.False(t, mem.LowMemory)
	assert.InDelta(t, 2.0, mem.PressureFull, 1e-9)

	writePressure(t, root, 25)
	mem, err = src.QuerySystemMemory(context.Background())
	require.NoError(t, err)
	assert.True(t, mem.LowMemory, "stalls above the pressure threshold")

	src.PressureThreshold = 0
	mem, err = src.QuerySystemMemory(context.Background())
	require.NoError(t, err)
	assert.False(t, mem.LowMemory)
	assert.Zero(t, mem.PressureFull)
}
