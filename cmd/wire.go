package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/ftahirops/xmem/collector"
	"github.com/ftahirops/xmem/config"
	"github.com/ftahirops/xmem/effector"
	"github.com/ftahirops/xmem/engine"
	"github.com/ftahirops/xmem/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is the wired object graph behind a command.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	source   collector.Source
	metrics  *engine.Metrics
	notifier *engine.Notifier
	db       *store.DB
	engine   *engine.Engine

	closers []func() error
}

type wireOptions struct {
	journal bool // open the run journal when enabled in config
	quiet   bool // one-shot commands only log warnings unless --debug
	silent  bool // full-screen UI: discard logs unless --debug

	topConsumers int
}

func wireApp(opts *rootOptions, w wireOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Log, opts.debug, w)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: engine.NewMetrics()}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	if err := a.wireSource(opts); err != nil {
		a.Close()
		return nil, err
	}

	if w.journal && cfg.Journal.Enabled {
		if cfg.Journal.Path == "" {
			a.Close()
			return nil, errors.New("journal path is unset and no home directory to default it to")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0700); err != nil {
			a.Close()
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		db, err := store.Open(cfg.Journal.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}

	a.notifier = engine.NewNotifier(engine.AlertConfig{
		Webhook: cfg.Alerts.Webhook,
		Command: cfg.Alerts.Command,
	}, log)

	eff, err := newEffector(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	eopts := engine.Options{
		Source:         a.source,
		Effector:       eff,
		Logger:         log,
		Metrics:        a.metrics,
		Notifier:       a.notifier,
		HistoryHorizon: cfg.Allocator.HistoryHorizon,
		BytesPerHour:   cfg.Allocator.BytesPerHour,
		LeakThreshold:  cfg.Leak.Threshold,
		StaleCycles:    cfg.Leak.StaleCycles,
		TriggerFactor:  cfg.Allocator.TriggerFactor,
		TopConsumers:   w.topConsumers,
		Pipeline: engine.PipelineConfig{
			TrimFreeRatio:    cfg.Pipeline.TrimFreeRatio,
			CacheFreeRatio:   cfg.Pipeline.CacheFreeRatio,
			IdleForegroundMs: cfg.Pipeline.IdleForegroundMs,
			HeavyUsageBytes:  cfg.Pipeline.HeavyUsageBytes,
		},
	}
	if a.db != nil {
		eopts.Journal = a.db
	}
	eng, err := engine.New(eopts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

func (a *app) wireSource(opts *rootOptions) error {
	switch {
	case opts.replayPath != "":
		f, err := os.Open(opts.replayPath)
		if err != nil {
			return fmt.Errorf("cannot open replay file: %w", err)
		}
		defer f.Close()
		player, err := collector.NewPlayer(f)
		if err != nil {
			return fmt.Errorf("load replay: %w", err)
		}
		if player.Len() == 0 {
			return fmt.Errorf("replay file %s has no frames", opts.replayPath)
		}
		a.source = player
	default:
		procfs := collector.NewProcfs(a.cfg.Collector.ProcRoot, a.cfg.Collector.MaxApps, a.cfg.Collector.LowMemoryRatio)
		procfs.PressureThreshold = a.cfg.Collector.PressureThreshold
		a.source = procfs
	}

	if opts.recordPath != "" {
		f, err := os.Create(opts.recordPath)
		if err != nil {
			return fmt.Errorf("cannot create record file: %w", err)
		}
		a.source = collector.NewRecorder(a.source, f)
		a.closers = append(a.closers, f.Close)
	}
	return nil
}

func newEffector(cfg config.Config, log *zap.Logger) (engine.Effector, error) {
	switch cfg.Effector.Mode {
	case config.EffectorSystem:
		return effector.NewSystem(effector.SystemConfig{
			ProcRoot:   cfg.Collector.ProcRoot,
			CgroupRoot: cfg.Effector.CgroupRoot,
			Denylist:   append(slices.Clone(effector.DefaultDenylist), cfg.Effector.Denylist...),
		}, log), nil
	case config.EffectorLog:
		return effector.NewLog(log), nil
	default:
		return nil, fmt.Errorf("unknown effector mode %q", cfg.Effector.Mode)
	}
}

func newLogger(cfg config.LogConfig, debug bool, w wireOptions) (*zap.Logger, error) {
	if w.silent && !debug {
		return zap.NewNop(), nil
	}
	zapCfg := zap.NewProductionConfig()
	if cfg.Development || debug {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	switch {
	case debug:
		level.SetLevel(zapcore.DebugLevel)
	case w.quiet && level.Level() < zapcore.WarnLevel:
		level.SetLevel(zapcore.WarnLevel)
	}
	zapCfg.Level = level
	zapCfg.OutputPaths = []string{"stderr"}
	return zapCfg.Build()
}

// Close releases files and the journal in reverse order of acquisition.
func (a *app) Close() error {
	a.notifier.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
