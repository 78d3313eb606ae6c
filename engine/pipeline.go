package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ftahirops/xmem/collector"
	"github.com/ftahirops/xmem/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Effector performs the system-level actions of the optimization pipeline.
// Errors are only reported; they never abort a run.
type Effector interface {
	TerminateBackgroundProcesses(ctx context.Context, appID string) error
	ClearCaches(ctx context.Context) error
	SetMemoryCap(ctx context.Context, appID string, bytes int64) error
	CompressInactiveData(ctx context.Context) error
	Defragment(ctx context.Context) error
	OptimizeServices(ctx context.Context) error
}

// Prioritizer is implemented by effectors that can favour a foreground app.
type Prioritizer interface {
	PrioritizeApp(ctx context.Context, appID string) error
	AllocateExtraMemory(ctx context.Context, appID string) error
}

// PipelineConfig holds the stage predicates.
type PipelineConfig struct {
	TrimFreeRatio    float64 // stage 1 runs below this free ratio
	CacheFreeRatio   float64 // stage 2 runs below this free ratio
	IdleForegroundMs int64
	HeavyUsageBytes  int64
}

// DefaultPipelineConfig returns the stock thresholds.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TrimFreeRatio:    0.20,
		CacheFreeRatio:   0.30,
		IdleForegroundMs: 60_000,
		HeavyUsageBytes:  200 * 1024 * 1024,
	}
}

// Pipeline runs the ordered remediation stages. Only one run executes at
// a time; concurrent callers queue on the mutex.
type Pipeline struct {
	source   collector.Source
	effector Effector
	cfg      PipelineConfig
	log      *zap.Logger
	clock    clock.PassiveClock
	metrics  *Metrics
	mu       sync.Mutex
}

// NewPipeline creates a pipeline. Memory is read from src before every
// gated stage.
func NewPipeline(src collector.Source, eff Effector, cfg PipelineConfig, log *zap.Logger, clk clock.PassiveClock, m *Metrics) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.TrimFreeRatio <= 0 {
		cfg.TrimFreeRatio = def.TrimFreeRatio
	}
	if cfg.CacheFreeRatio <= 0 {
		cfg.CacheFreeRatio = def.CacheFreeRatio
	}
	if cfg.IdleForegroundMs <= 0 {
		cfg.IdleForegroundMs = def.IdleForegroundMs
	}
	if cfg.HeavyUsageBytes <= 0 {
		cfg.HeavyUsageBytes = def.HeavyUsageBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Pipeline{source: src, effector: eff, cfg: cfg, log: log, clock: clk, metrics: m}
}

// SelectTrimTargets returns the apps stage 1 terminates: those idle in the
// foreground or using more than heavyBytes. Order follows apps.
func SelectTrimTargets(apps []model.TelemetrySnapshot, idleMs, heavyBytes int64) []string {
	var out []string
	for _, a := range apps {
		if a.ForegroundTimeMs < idleMs || a.MemoryUsageBytes > heavyBytes {
			out = append(out, a.AppID)
		}
	}
	return out
}

// BalanceCaps splits available memory evenly across apps and returns the
// per-app cap plus the apps currently above it. With no apps the cap is 0
// and nothing is targeted.
func BalanceCaps(apps []model.TelemetrySnapshot, available int64) (int64, []string) {
	if len(apps) == 0 {
		return 0, nil
	}
	limit := available / int64(len(apps))
	var targets []string
	for _, a := range apps {
		if a.MemoryUsageBytes > limit {
			targets = append(targets, a.AppID)
		}
	}
	return limit, targets
}

// Run executes the pipeline over apps. A stage starts only while ctx is
// live. Effector calls receive ctx, so cancellation can cut a blocked call
// short; the stage is still recorded and no later stage starts. Run never
// fails outright: problems are recorded in the report.
func (p *Pipeline) Run(ctx context.Context, apps []model.TelemetrySnapshot, trigger string) *model.PipelineReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	rep := &model.PipelineReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: p.clock.Now(),
		Apps:      len(apps),
	}
	log := p.log.With(zap.String("run", rep.ID), zap.String("trigger", trigger))
	log.Info("pipeline started", zap.Int("apps", len(apps)))

	stages := []struct {
		name string
		fn   func(context.Context, *model.StageResult)
	}{
		{model.StageTrim, func(ctx context.Context, r *model.StageResult) { p.trim(ctx, log, apps, r) }},
		{model.StageCaches, func(ctx context.Context, r *model.StageResult) { p.clearCaches(ctx, log, r) }},
		{model.StageCompress, func(ctx context.Context, r *model.StageResult) {
			r.Ran = true
			p.call(log, r, "", p.effector.CompressInactiveData(ctx))
		}},
		{model.StageBalance, func(ctx context.Context, r *model.StageResult) { p.balance(ctx, log, apps, r) }},
		{model.StageDefrag, func(ctx context.Context, r *model.StageResult) {
			r.Ran = true
			p.call(log, r, "", p.effector.Defragment(ctx))
		}},
		{model.StageServices, func(ctx context.Context, r *model.StageResult) {
			r.Ran = true
			p.call(log, r, "", p.effector.OptimizeServices(ctx))
		}},
	}

	for _, st := range stages {
		if ctx.Err() != nil {
			rep.Cancelled = true
			log.Info("pipeline cancelled", zap.String("before", st.name))
			break
		}
		res := model.StageResult{Stage: st.name}
		st.fn(ctx, &res)
		rep.Stages = append(rep.Stages, res)
	}

	rep.FinishedAt = p.clock.Now()
	p.metrics.ObserveRun(rep)
	log.Info("pipeline finished",
		zap.Int("stages", len(rep.Stages)),
		zap.Int("errors", rep.ErrorCount()),
		zap.Bool("cancelled", rep.Cancelled))
	return rep
}

// readMemory takes a fresh memory read for a gated stage. On failure the
// stage is marked skipped.
func (p *Pipeline) readMemory(ctx context.Context, log *zap.Logger, r *model.StageResult) (model.SystemMemoryState, bool) {
	mem, err := p.source.QuerySystemMemory(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTelemetryUnavailable, err)
		r.Skipped = err.Error()
		log.Warn("stage skipped", zap.String("stage", r.Stage), zap.Error(err))
		return mem, false
	}
	r.Memory = &mem
	return mem, true
}

func (p *Pipeline) trim(ctx context.Context, log *zap.Logger, apps []model.TelemetrySnapshot, r *model.StageResult) {
	mem, ok := p.readMemory(ctx, log, r)
	if !ok {
		return
	}
	if !mem.Below(p.cfg.TrimFreeRatio) {
		r.Skipped = fmt.Sprintf("free ratio %.2f >= %.2f", mem.FreeRatio(), p.cfg.TrimFreeRatio)
		return
	}
	r.Ran = true
	r.Targets = SelectTrimTargets(apps, p.cfg.IdleForegroundMs, p.cfg.HeavyUsageBytes)
	for _, app := range r.Targets {
		p.call(log, r, app, p.effector.TerminateBackgroundProcesses(ctx, app))
	}
}

func (p *Pipeline) clearCaches(ctx context.Context, log *zap.Logger, r *model.StageResult) {
	mem, ok := p.readMemory(ctx, log, r)
	if !ok {
		return
	}
	if !mem.Below(p.cfg.CacheFreeRatio) {
		r.Skipped = fmt.Sprintf("free ratio %.2f >= %.2f", mem.FreeRatio(), p.cfg.CacheFreeRatio)
		return
	}
	r.Ran = true
	p.call(log, r, "", p.effector.ClearCaches(ctx))
}

// balance re-reads telemetry so apps terminated by earlier stages are
// neither counted nor capped. The cached apps are used only when that read
// fails.
func (p *Pipeline) balance(ctx context.Context, log *zap.Logger, cached []model.TelemetrySnapshot, r *model.StageResult) {
	mem, ok := p.readMemory(ctx, log, r)
	if !ok {
		return
	}
	apps, err := p.source.QueryTelemetry(ctx)
	if err != nil {
		log.Warn("telemetry re-read failed, balancing cached apps", zap.Error(err))
		apps = cached
	}
	if len(apps) == 0 {
		r.Skipped = "no apps"
		return
	}
	r.Ran = true
	r.CapBytes, r.Targets = BalanceCaps(apps, mem.AvailableBytes)
	sort.Strings(r.Targets)
	for _, app := range r.Targets {
		p.call(log, r, app, p.effector.SetMemoryCap(ctx, app, r.CapBytes))
	}
}

// call records an effector error against the stage and keeps going.
func (p *Pipeline) call(log *zap.Logger, r *model.StageResult, app string, err error) {
	if err == nil {
		return
	}
	err = fmt.Errorf("%w: %s: %w", ErrEffectorFailure, r.Stage, err)
	if app != "" {
		err = fmt.Errorf("%s: %w", app, err)
	}
	r.Errors = append(r.Errors, err.Error())
	p.metrics.EffectorFailed(r.Stage)
	log.Warn("effector failed", zap.String("stage", r.Stage), zap.String("app", app), zap.Error(err))
}
