package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ftahirops/xmem/model"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// DefaultCycleInterval is the cadence of the background control loop.
const DefaultCycleInterval = 5 * time.Minute

// SchedulerState is what the scheduler loop is doing.
type SchedulerState int

const (
	SchedulerStopped SchedulerState = iota
	SchedulerIdle
	SchedulerRunning
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	default:
		return "stopped"
	}
}

// SchedulerConfig sets the scheduler cadences.
type SchedulerConfig struct {
	Interval time.Duration
	// Periodic, when positive, runs the pipeline unconditionally on its
	// own cadence in addition to prediction-driven runs.
	Periodic time.Duration
}

// Scheduler drives Engine.Cycle on an interval and serves manual
// optimization requests between ticks.
type Scheduler struct {
	eng      *Engine
	interval time.Duration
	periodic time.Duration
	clock    clock.WithTicker
	log      *zap.Logger
	trigger  chan struct{}

	mu     sync.Mutex
	state  SchedulerState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler for eng.
func NewScheduler(eng *Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCycleInterval
	}
	return &Scheduler{
		eng:      eng,
		interval: cfg.Interval,
		periodic: cfg.Periodic,
		clock:    eng.clock,
		log:      eng.log.Named("scheduler"),
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the loop. The first cycle runs immediately. The loop
// ends when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return ErrSchedulerRunning
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state = SchedulerIdle
	s.eng.scheduling.Store(true)
	go s.loop(ctx, s.done)
	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.Duration("periodic", s.periodic))
	return nil
}

// Stop cancels the loop and waits for it to exit. A cycle in flight
// finishes its current stage first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the running loop exits.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Trigger requests a manual optimization without waiting for the next
// tick. It returns false if the loop is not running or a request is
// already pending.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || s.state == SchedulerStopped {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// State returns the loop state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st SchedulerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.eng.scheduling.Store(false)
		s.setState(SchedulerStopped)
		s.log.Info("scheduler stopped")
	}()

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	var periodic <-chan time.Time
	if s.periodic > 0 {
		pt := s.clock.NewTicker(s.periodic)
		defer pt.Stop()
		periodic = pt.C()
	}

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.cycle(ctx)
		case <-s.trigger:
			s.optimize(ctx, model.TriggerManual)
		case <-periodic:
			s.optimize(ctx, model.TriggerPeriodic)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.setState(SchedulerRunning)
	defer s.setState(SchedulerIdle)
	rep, err := s.eng.Cycle(ctx)
	switch {
	case errors.Is(err, ErrTelemetryUnavailable):
		s.log.Warn("cycle skipped", zap.Error(err))
	case err != nil:
		s.log.Error("cycle failed", zap.Error(err))
	case rep != nil:
		s.log.Info("cycle ran pipeline", zap.String("run", rep.ID), zap.Int("errors", rep.ErrorCount()))
	}
}

func (s *Scheduler) optimize(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	s.setState(SchedulerRunning)
	defer s.setState(SchedulerIdle)
	if _, err := s.eng.runOptimization(ctx, trigger); err != nil {
		s.log.Warn("optimization skipped", zap.String("trigger", trigger), zap.Error(err))
	}
}
