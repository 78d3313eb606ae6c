package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ftahirops/xmem/collector"
	"github.com/ftahirops/xmem/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// DefaultTriggerFactor is how far predicted demand must exceed current
// usage before a cycle runs the pipeline.
const DefaultTriggerFactor = 1.5

// Journal persists pipeline runs and leak episodes.
type Journal interface {
	RecordRun(ctx context.Context, rep *model.PipelineReport) error
	RecordEpisode(ctx context.Context, ep model.LeakEpisode) error
}

// Options configures an Engine. Source and Effector are required.
type Options struct {
	Source   collector.Source
	Effector Effector
	Logger   *zap.Logger
	Clock    clock.WithTicker
	Metrics  *Metrics
	Journal  Journal
	Notifier *Notifier

	HistoryHorizon time.Duration
	BytesPerHour   int64
	LeakThreshold  float64
	StaleCycles    int
	TriggerFactor  float64
	TopConsumers   int
	Pipeline       PipelineConfig
}

// Engine runs the observe → learn → predict → remediate loop.
type Engine struct {
	source    collector.Source
	effector  Effector
	history   *History
	allocator *Allocator
	leaks     *LeakDetector
	pipeline  *Pipeline
	episodes  *EpisodeTracker
	log       *zap.Logger
	clock     clock.WithTicker
	metrics   *Metrics
	journal   Journal
	notifier  *Notifier

	triggerFactor float64
	topN          int

	cycleMu sync.Mutex // serializes cycles

	mu        sync.RWMutex
	latest    []model.TelemetrySnapshot
	memory    model.SystemMemoryState
	predicted model.PredictedAllocation
	verdicts  []model.LeakVerdict
	lastCycle time.Time
	lastErr   error
	lastRun   *model.PipelineReport

	scheduling atomic.Bool
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("engine: telemetry source is required")
	}
	if opts.Effector == nil {
		return nil, errors.New("engine: effector is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.TriggerFactor <= 0 {
		opts.TriggerFactor = DefaultTriggerFactor
	}
	if opts.TopConsumers <= 0 {
		opts.TopConsumers = DefaultTopConsumers
	}
	h := NewHistory(opts.HistoryHorizon, opts.Clock)
	return &Engine{
		source:        opts.Source,
		effector:      opts.Effector,
		history:       h,
		allocator:     NewAllocator(h, opts.BytesPerHour),
		leaks:         NewLeakDetector(opts.LeakThreshold, opts.StaleCycles),
		pipeline:      NewPipeline(opts.Source, opts.Effector, opts.Pipeline, opts.Logger, opts.Clock, opts.Metrics),
		episodes:      NewEpisodeTracker(),
		log:           opts.Logger,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		journal:       opts.Journal,
		notifier:      opts.Notifier,
		triggerFactor: opts.TriggerFactor,
		topN:          opts.TopConsumers,
		predicted:     model.PredictedAllocation{},
	}, nil
}

// History returns the usage history store.
func (e *Engine) History() *History { return e.history }

// Leaks returns the leak detector.
func (e *Engine) Leaks() *LeakDetector { return e.leaks }

// Episodes returns the leak episode tracker.
func (e *Engine) Episodes() *EpisodeTracker { return e.episodes }

// Metrics returns the metrics recorder, which may be nil.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Refresh reads telemetry and updates history, predictions and leak
// verdicts without running the pipeline.
func (e *Engine) Refresh(ctx context.Context) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.refresh(ctx)
}

// Cycle runs one control loop iteration. When any app's predicted demand
// exceeds TriggerFactor × its current usage, the pipeline runs and its
// report is returned. A telemetry failure skips the iteration and is
// returned wrapped in ErrTelemetryUnavailable.
func (e *Engine) Cycle(ctx context.Context) (*model.PipelineReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	if err := e.refresh(ctx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	apps := e.latest
	hot := overPredicted(apps, e.predicted, e.triggerFactor)
	e.mu.RUnlock()
	if len(hot) == 0 {
		return nil, nil
	}
	e.log.Info("predicted demand exceeds usage", zap.Strings("apps", hot), zap.Float64("factor", e.triggerFactor))
	return e.runPipeline(ctx, apps, model.TriggerPrediction), nil
}

// overPredicted returns the apps, in telemetry order, whose prediction
// exceeds factor × current usage. Apps without a prediction never qualify.
func overPredicted(apps []model.TelemetrySnapshot, pred model.PredictedAllocation, factor float64) []string {
	var hot []string
	for _, a := range apps {
		p, ok := pred[a.AppID]
		if !ok {
			continue
		}
		if float64(p) > factor*float64(a.MemoryUsageBytes) {
			hot = append(hot, a.AppID)
		}
	}
	return hot
}

func (e *Engine) refresh(ctx context.Context) error {
	apps, err := e.source.QueryTelemetry(ctx)
	now := e.clock.Now()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrTelemetryUnavailable, e.source.Name(), err)
		e.mu.Lock()
		e.lastCycle = now
		e.lastErr = err
		e.mu.Unlock()
		e.metrics.CycleFailed()
		return err
	}

	e.learn(ctx, now, apps)

	var (
		pred     model.PredictedAllocation
		verdicts []model.LeakVerdict
		g        errgroup.Group
	)
	g.Go(func() error {
		pred = e.allocator.Predict(now)
		return nil
	})
	g.Go(func() error {
		seen := make(map[string]struct{}, len(apps))
		for _, a := range apps {
			e.leaks.Observe(a.AppID, a.MemoryUsageBytes)
			seen[a.AppID] = struct{}{}
		}
		e.leaks.Sweep(seen)
		verdicts = e.leaks.Detect()
		return nil
	})
	_ = g.Wait()

	usage := make(map[string]int64, len(apps))
	for _, a := range apps {
		usage[a.AppID] = a.MemoryUsageBytes
	}
	opened, closed := e.episodes.Process(now, verdicts, usage)
	e.publishEpisodes(ctx, opened, EventLeakDetected)
	e.publishEpisodes(ctx, closed, EventLeakResolved)

	mem, merr := e.source.QuerySystemMemory(ctx)
	if merr != nil {
		e.log.Warn("memory read failed", zap.Error(merr))
	} else {
		e.metrics.ObserveMemory(mem)
	}
	e.metrics.ObserveCycle(apps, pred, verdicts)

	e.mu.Lock()
	e.latest = apps
	e.predicted = pred
	e.verdicts = verdicts
	if merr == nil {
		e.memory = mem
	}
	e.lastCycle = now
	e.lastErr = nil
	e.mu.Unlock()

	e.log.Debug("cycle complete",
		zap.Int("apps", len(apps)),
		zap.Int("predicted", len(pred)),
		zap.Int("leaks", len(verdicts)))
	return nil
}

// learn feeds the history store. Sources that keep their own history
// rebuild it wholesale; others accumulate live samples.
func (e *Engine) learn(ctx context.Context, now time.Time, apps []model.TelemetrySnapshot) {
	if hs, ok := e.source.(collector.HistorySource); ok {
		past, err := hs.QueryHistory(ctx, now.Add(-e.history.horizon))
		if err == nil {
			e.history.Rebuild(past)
			return
		}
		e.log.Warn("history query failed, recording live samples", zap.Error(err))
	}
	for _, a := range apps {
		e.history.Record(a)
	}
}

func (e *Engine) publishEpisodes(ctx context.Context, eps []model.LeakEpisode, event string) {
	for _, ep := range eps {
		e.log.Info(event,
			zap.String("app", ep.AppID),
			zap.String("episode", ep.ID),
			zap.Float64("trend", ep.LastTrend),
			zap.Int("cycles", ep.Cycles))
		if e.journal != nil {
			if err := e.journal.RecordEpisode(context.WithoutCancel(ctx), ep); err != nil {
				e.log.Warn("journal episode failed", zap.String("episode", ep.ID), zap.Error(err))
			}
		}
		e.notifier.Notify(event, ep)
	}
}

// RunOptimizationNow runs the pipeline immediately over the latest cached
// telemetry, fetching telemetry once if no cycle has completed yet.
func (e *Engine) RunOptimizationNow(ctx context.Context) (*model.PipelineReport, error) {
	return e.runOptimization(ctx, model.TriggerManual)
}

func (e *Engine) runOptimization(ctx context.Context, trigger string) (*model.PipelineReport, error) {
	e.mu.RLock()
	apps := e.latest
	e.mu.RUnlock()
	if apps == nil {
		fetched, err := e.source.QueryTelemetry(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrTelemetryUnavailable, e.source.Name(), err)
		}
		apps = fetched
		e.mu.Lock()
		if e.latest == nil {
			e.latest = fetched
		}
		e.mu.Unlock()
	}
	return e.runPipeline(ctx, apps, trigger), nil
}

func (e *Engine) runPipeline(ctx context.Context, apps []model.TelemetrySnapshot, trigger string) *model.PipelineReport {
	rep := e.pipeline.Run(ctx, apps, trigger)

	e.mu.Lock()
	e.lastRun = rep
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.RecordRun(context.WithoutCancel(ctx), rep); err != nil {
			e.log.Warn("journal run failed", zap.String("run", rep.ID), zap.Error(err))
		}
	}
	if trim := rep.Stage(model.StageTrim); trim != nil && len(trim.Targets) > 0 {
		e.notifier.Notify(EventAppsTrimmed, rep)
	}
	return rep
}

// PredictedAllocations returns a copy of the latest predictions.
func (e *Engine) PredictedAllocations() model.PredictedAllocation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(model.PredictedAllocation, len(e.predicted))
	for k, v := range e.predicted {
		out[k] = v
	}
	return out
}

// LeakVerdicts returns the latest leak verdicts, sorted by app.
func (e *Engine) LeakVerdicts() []model.LeakVerdict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]model.LeakVerdict(nil), e.verdicts...)
}

// Analyze reads telemetry and memory afresh and breaks usage down by app.
func (e *Engine) Analyze(ctx context.Context) (model.MemoryAnalysis, error) {
	apps, err := e.source.QueryTelemetry(ctx)
	if err != nil {
		return model.MemoryAnalysis{}, fmt.Errorf("%w: %s: %w", ErrTelemetryUnavailable, e.source.Name(), err)
	}
	mem, err := e.source.QuerySystemMemory(ctx)
	if err != nil {
		return model.MemoryAnalysis{}, fmt.Errorf("%w: %s: %w", ErrTelemetryUnavailable, e.source.Name(), err)
	}
	return Analyze(e.clock.Now(), apps, mem, e.topN), nil
}

// PrioritizeApp raises appID's scheduling priority and lifts its memory
// limit when the effector supports it.
func (e *Engine) PrioritizeApp(ctx context.Context, appID string) error {
	p, ok := e.effector.(Prioritizer)
	if !ok {
		return fmt.Errorf("prioritize %s: %w", appID, ErrUnsupported)
	}
	if err := p.PrioritizeApp(ctx, appID); err != nil {
		return fmt.Errorf("%w: prioritize %s: %w", ErrEffectorFailure, appID, err)
	}
	if err := p.AllocateExtraMemory(ctx, appID); err != nil {
		return fmt.Errorf("%w: extra memory %s: %w", ErrEffectorFailure, appID, err)
	}
	e.log.Info("app prioritized", zap.String("app", appID))
	return nil
}

// Status summarizes the latest cycle.
func (e *Engine) Status() model.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := model.EngineStatus{
		LastCycle:   e.lastCycle,
		Bucket:      model.BucketOf(e.clock.Now()),
		Memory:      e.memory,
		Apps:        append([]model.TelemetrySnapshot(nil), e.latest...),
		Predicted:   make(model.PredictedAllocation, len(e.predicted)),
		Leaks:       append([]model.LeakVerdict(nil), e.verdicts...),
		LastRun:     e.lastRun,
		SchedulerOn: e.scheduling.Load(),
	}
	for k, v := range e.predicted {
		st.Predicted[k] = v
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}
