package engine

import (
	"net/http"

	"github.com/ftahirops/xmem/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes engine state as Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	predictedBytes   *prometheus.GaugeVec
	usageBytes       *prometheus.GaugeVec
	leakTrend        *prometheus.GaugeVec
	memTotal         prometheus.Gauge
	memAvailable     prometheus.Gauge
	cycles           *prometheus.CounterVec
	runs             *prometheus.CounterVec
	effectorFailures *prometheus.CounterVec
}

// NewMetrics registers the xmem collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		predictedBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xmem_predicted_bytes",
			Help: "Predicted memory demand per app for the current time bucket",
		}, []string{"app"}),
		usageBytes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xmem_app_memory_bytes",
			Help: "Latest observed memory usage per app",
		}, []string{"app"}),
		leakTrend: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xmem_leak_trend",
			Help: "Normalized usage trend of apps currently flagged as leaking",
		}, []string{"app"}),
		memTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "xmem_memory_total_bytes",
			Help: "Total system memory",
		}),
		memAvailable: f.NewGauge(prometheus.GaugeOpts{
			Name: "xmem_memory_available_bytes",
			Help: "Available system memory",
		}),
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xmem_cycles_total",
			Help: "Control loop cycles by outcome",
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xmem_pipeline_runs_total",
			Help: "Optimization pipeline runs by trigger",
		}, []string{"trigger"}),
		effectorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xmem_effector_failures_total",
			Help: "Failed effector calls by stage",
		}, []string{"stage"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle replaces the per-app gauges with the latest cycle's view.
func (m *Metrics) ObserveCycle(apps []model.TelemetrySnapshot, pred model.PredictedAllocation, leaks []model.LeakVerdict) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("ok").Inc()
	m.usageBytes.Reset()
	for _, a := range apps {
		m.usageBytes.WithLabelValues(a.AppID).Set(float64(a.MemoryUsageBytes))
	}
	m.predictedBytes.Reset()
	for app, b := range pred {
		m.predictedBytes.WithLabelValues(app).Set(float64(b))
	}
	m.leakTrend.Reset()
	for _, v := range leaks {
		m.leakTrend.WithLabelValues(v.AppID).Set(v.Trend)
	}
}

// CycleFailed counts a cycle that could not read telemetry.
func (m *Metrics) CycleFailed() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("telemetry_unavailable").Inc()
}

// ObserveMemory records a system memory read.
func (m *Metrics) ObserveMemory(mem model.SystemMemoryState) {
	if m == nil {
		return
	}
	m.memTotal.Set(float64(mem.TotalBytes))
	m.memAvailable.Set(float64(mem.AvailableBytes))
}

// ObserveRun counts a finished pipeline run.
func (m *Metrics) ObserveRun(rep *model.PipelineReport) {
	if m == nil || rep == nil {
		return
	}
	m.runs.WithLabelValues(rep.Trigger).Inc()
}

// EffectorFailed counts one failed effector call.
func (m *Metrics) EffectorFailed(stage string) {
	if m == nil {
		return
	}
	m.effectorFailures.WithLabelValues(stage).Inc()
}
