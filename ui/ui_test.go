package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ftahirops/xmem/collector"
	"github.com/ftahirops/xmem/effector"
	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mib = 1 << 20

var now = time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

func fixtureStatus() model.EngineStatus {
	return model.EngineStatus{
		LastCycle: now.Add(-time.Minute),
		Bucket:    model.BucketOf(now),
		Memory:    model.SystemMemoryState{TotalBytes: 1000 * mib, AvailableBytes: 100 * mib, LowMemory: true},
		Apps: []model.TelemetrySnapshot{
			{AppID: "small", MemoryUsageBytes: 10 * mib, ForegroundTimeMs: 5000},
			{AppID: "browser", MemoryUsageBytes: 400 * mib, ForegroundTimeMs: 90 * 60 * 1000},
		},
		Predicted: model.PredictedAllocation{"small": 50 * mib},
		Leaks:     []model.LeakVerdict{{AppID: "browser", Trend: 0.12}},
		LastRun: &model.PipelineReport{
			ID:         "0123456789abcdef",
			Trigger:    model.TriggerPrediction,
			FinishedAt: now,
			Stages: []model.StageResult{
				{Stage: model.StageTrim, Ran: true, Targets: []string{"small"}},
				{Stage: model.StageCaches, Skipped: "free ratio 0.40 >= 0.30"},
				{Stage: model.StageBalance, Ran: true, CapBytes: 50 * mib, Errors: []string{"cap browser: denied"}},
			},
		},
	}
}

func TestRenderStatus(t *testing.T) {
	out := RenderStatus(fixtureStatus(), RenderOptions{Width: 100, LeakThreshold: 0.05, TriggerFactor: 1.5, Now: now})

	assert.Contains(t, out, "Mon 10:00")
	assert.Contains(t, out, "APPS (2)")
	assert.Less(t, strings.Index(out, "browser"), strings.Index(out, "small"), "largest app first")
	assert.Contains(t, out, "50 MiB")
	assert.Contains(t, out, "1h30m")
	assert.Contains(t, out, "SUSPECTED LEAKS")
	assert.Contains(t, out, "+0.120")
	assert.Contains(t, out, "low-memory")
	assert.Contains(t, out, "LAST RUN  prediction  01234567")
	assert.Contains(t, out, "free ratio 0.40 >= 0.30")
	assert.Contains(t, out, "cap browser: denied")
}

func TestRenderStatusEmpty(t *testing.T) {
	out := RenderStatus(model.EngineStatus{}, RenderOptions{Width: 80})
	assert.Contains(t, out, "no reading yet")
	assert.Contains(t, out, "no telemetry")
	assert.NotContains(t, out, "LAST RUN")
	assert.NotContains(t, out, "SUSPECTED LEAKS")
}

func TestRenderAnalysis(t *testing.T) {
	a := engine.Analyze(now, fixtureStatus().Apps, model.SystemMemoryState{TotalBytes: 1000 * mib, AvailableBytes: 500 * mib}, 1)
	out := RenderAnalysis(a, RenderOptions{Width: 90})
	assert.Contains(t, out, "LARGEST CONSUMERS (top 1 of 2)")
	assert.Contains(t, out, "browser")
	assert.Contains(t, out, "40.0%")
}

func TestSparkline(t *testing.T) {
	assert.Empty(t, sparkline(nil, 10))
	assert.Equal(t, "▁█", sparkline([]float64{1, 2}, 10))
	assert.Equal(t, "▁▁▁", sparkline([]float64{5, 5, 5}, 10))
	assert.Len(t, []rune(sparkline(make([]float64, 50), 20)), 20)
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "100 MiB", fmtBytes(100*mib))
	assert.Equal(t, "-1.0 KiB", fmtBytes(-1024))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
}

func newWatchModel(t *testing.T) (Model, *collector.Static) {
	t.Helper()
	src := collector.NewStatic(model.SystemMemoryState{TotalBytes: 1000 * mib, AvailableBytes: 100 * mib},
		model.TelemetrySnapshot{AppID: "alpha", MemoryUsageBytes: 300 * mib, ForegroundTimeMs: 1000},
		model.TelemetrySnapshot{AppID: "beta", MemoryUsageBytes: 20 * mib, ForegroundTimeMs: 120000},
	)
	base := time.Now().Add(-10 * time.Minute).UnixMilli()
	src.SetHistory(
		model.TelemetrySnapshot{AppID: "alpha", MemoryUsageBytes: 100 * mib, SampledAtEpochMs: base},
		model.TelemetrySnapshot{AppID: "alpha", MemoryUsageBytes: 200 * mib, SampledAtEpochMs: base + 60000},
		model.TelemetrySnapshot{AppID: "alpha", MemoryUsageBytes: 300 * mib, SampledAtEpochMs: base + 120000},
	)
	eng, err := engine.New(engine.Options{Source: src, Effector: effector.NewLog(zap.NewNop())})
	require.NoError(t, err)
	return NewModel(eng, time.Second, RenderOptions{Width: 100, LeakThreshold: engine.DefaultLeakThreshold}), src
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchRefresh(t *testing.T) {
	m, _ := newWatchModel(t)
	assert.Contains(t, m.View(), "no telemetry")

	msg := refreshOnce(m.eng, time.Second)()
	m, _ = update(t, m, msg)
	require.NoError(t, m.err)

	view := m.View()
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "beta")
	assert.Contains(t, view, "HISTORY  alpha  (3 samples)")

	m, _ = update(t, m, key("j"))
	assert.Equal(t, "beta", m.selectedApp())
	m, _ = update(t, m, key("j"))
	assert.Equal(t, "beta", m.selectedApp(), "selection stops at the last app")
	m, _ = update(t, m, key("k"))
	assert.Equal(t, "alpha", m.selectedApp())
}

func TestWatchRefreshError(t *testing.T) {
	m, src := newWatchModel(t)
	src.FailTelemetry(assert.AnError)
	m, _ = update(t, m, refreshOnce(m.eng, time.Second)())
	require.ErrorIs(t, m.err, engine.ErrTelemetryUnavailable)
	assert.Contains(t, m.View(), assert.AnError.Error())
}

func TestWatchOptimize(t *testing.T) {
	m, _ := newWatchModel(t)

	m, cmd := update(t, m, key("o"))
	require.NotNil(t, cmd)
	assert.True(t, m.busy)

	_, again := update(t, m, key("o"))
	assert.Nil(t, again, "second press while busy is ignored")

	msg := cmd()
	res, ok := msg.(optimizedMsg)
	require.True(t, ok)
	require.NoError(t, res.err)

	m, _ = update(t, m, msg)
	assert.False(t, m.busy)
	assert.Contains(t, m.message, "6 stages, 0 errors")
	assert.Contains(t, m.View(), "LAST RUN  manual")
}

func TestWatchAnalysisToggle(t *testing.T) {
	m, _ := newWatchModel(t)

	m, cmd := update(t, m, key("a"))
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "analyzing...")

	m, _ = update(t, m, cmd())
	view := m.View()
	assert.Contains(t, view, "LARGEST CONSUMERS (top 2 of 2)")
	assert.Contains(t, view, "30.0%")

	m, _ = update(t, m, key("a"))
	assert.Equal(t, viewStatus, m.view)
}

func TestWatchQuit(t *testing.T) {
	m, _ := newWatchModel(t)
	_, cmd := update(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestWatchWindowSize(t *testing.T) {
	m, _ := newWatchModel(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})
	assert.Equal(t, 140, m.width)
}
