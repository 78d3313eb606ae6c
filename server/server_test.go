package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ftahirops/xmem/collector"
	"github.com/ftahirops/xmem/effector"
	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/model"
	"github.com/ftahirops/xmem/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainEffector supports only the pipeline actions.
type plainEffector struct{}

func (plainEffector) TerminateBackgroundProcesses(context.Context, string) error { return nil }
func (plainEffector) ClearCaches(context.Context) error                          { return nil }
func (plainEffector) SetMemoryCap(context.Context, string, int64) error          { return nil }
func (plainEffector) CompressInactiveData(context.Context) error                 { return nil }
func (plainEffector) Defragment(context.Context) error                           { return nil }
func (plainEffector) OptimizeServices(context.Context) error                     { return nil }

type fixture struct {
	srv *Server
	eng *engine.Engine
	src *collector.Static
	db  *store.DB
}

func testServer(t *testing.T, eff engine.Effector) *fixture {
	t.Helper()
	src := collector.NewStatic(
		model.SystemMemoryState{TotalBytes: 1000, AvailableBytes: 100},
		model.TelemetrySnapshot{AppID: "editor", MemoryUsageBytes: 400, ForegroundTimeMs: 10},
		model.TelemetrySnapshot{AppID: "shell", MemoryUsageBytes: 100, ForegroundTimeMs: 120_000},
	)
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng, err := engine.New(engine.Options{
		Source:   src,
		Effector: eff,
		Journal:  db,
		Metrics:  engine.NewMetrics(),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Refresh(context.Background()))

	return &fixture{
		srv: New(Config{Engine: eng, DB: db, Version: "test"}),
		eng: eng,
		src: src,
		db:  db,
	}
}

func (f *fixture) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w, body
}

func TestHealth(t *testing.T) {
	f := testServer(t, plainEffector{})
	w, body := f.do(t, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, true, body["db"])
}

func TestStatusAndPredictions(t *testing.T) {
	f := testServer(t, plainEffector{})

	w, body := f.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["apps"], 2)

	w, body = f.do(t, http.MethodGet, "/api/predictions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "bucket")
	assert.Contains(t, body, "predictions")

	w, body = f.do(t, http.MethodGet, "/api/leaks")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "verdicts")
}

func TestOptimizeRecordsRun(t *testing.T) {
	f := testServer(t, plainEffector{})

	w, body := f.do(t, http.MethodPost, "/api/optimize")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.TriggerManual, body["trigger"])
	assert.Len(t, body["stages"], 6)

	w, body = f.do(t, http.MethodGet, "/api/runs?trigger=manual")
	require.Equal(t, http.StatusOK, w.Code)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	totals := body["totals"].(map[string]any)
	assert.EqualValues(t, 1, totals[model.TriggerManual])

	w, _ = f.do(t, http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimizeAsync(t *testing.T) {
	f := testServer(t, plainEffector{})
	sched := engine.NewScheduler(f.eng, engine.SchedulerConfig{Interval: time.Hour})
	f.srv = New(Config{Engine: f.eng, Scheduler: sched, DB: f.db})

	w, _ := f.do(t, http.MethodPost, "/api/optimize?async=true")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "scheduler not started")

	require.NoError(t, sched.Start(context.Background()))
	defer sched.Stop()
	w, body := f.do(t, http.MethodPost, "/api/optimize?async=true")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, true, body["queued"])
}

func TestOptimizeTelemetryUnavailable(t *testing.T) {
	src := collector.NewStatic(model.SystemMemoryState{})
	src.FailTelemetry(collector.ErrNoData)
	eng, err := engine.New(engine.Options{Source: src, Effector: plainEffector{}})
	require.NoError(t, err)
	srv := New(Config{Engine: eng})

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/optimize", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "journal disabled")
}

func TestAnalysis(t *testing.T) {
	f := testServer(t, plainEffector{})
	w, body := f.do(t, http.MethodGet, "/api/analysis")
	require.Equal(t, http.StatusOK, w.Code)
	largest := body["largest"].([]any)
	require.Len(t, largest, 2)
	assert.Equal(t, "editor", largest[0].(map[string]any)["app_id"])

	f.src.FailMemory(collector.ErrNoData)
	w, _ = f.do(t, http.MethodGet, "/api/analysis")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPrioritize(t *testing.T) {
	f := testServer(t, plainEffector{})
	w, _ := f.do(t, http.MethodPost, "/api/apps/editor/prioritize")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	f = testServer(t, effector.NewLog(nil))
	w, body := f.do(t, http.MethodPost, "/api/apps/editor/prioritize")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "editor", body["app"])
}

func TestEpisodes(t *testing.T) {
	f := testServer(t, plainEffector{})
	w, body := f.do(t, http.MethodGet, "/api/episodes?app=editor")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["episodes"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := testServer(t, plainEffector{})
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `xmem_app_memory_bytes{app="editor"} 400`)
}
