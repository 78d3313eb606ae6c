// Package effector implements the actions the optimization pipeline takes.
package effector

import (
	"context"
	"errors"

	"github.com/ftahirops/xmem/engine"
	"go.uber.org/zap"
)

// ErrProtected is returned when an action targets a protected process.
var ErrProtected = errors.New("protected process")

var (
	_ engine.Effector    = (*Log)(nil)
	_ engine.Prioritizer = (*Log)(nil)
	_ engine.Effector    = (*System)(nil)
	_ engine.Prioritizer = (*System)(nil)
)

// Log only records what it would do. It is the default effector.
type Log struct {
	log *zap.Logger
}

// NewLog creates a dry-run effector.
func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log.Named("effector").With(zap.Bool("dry_run", true))}
}

func (l *Log) TerminateBackgroundProcesses(ctx context.Context, appID string) error {
	l.log.Info("terminate background processes", zap.String("app", appID))
	return nil
}

func (l *Log) ClearCaches(ctx context.Context) error {
	l.log.Info("clear caches")
	return nil
}

func (l *Log) SetMemoryCap(ctx context.Context, appID string, bytes int64) error {
	l.log.Info("set memory cap", zap.String("app", appID), zap.Int64("bytes", bytes))
	return nil
}

func (l *Log) CompressInactiveData(ctx context.Context) error {
	l.log.Info("compress inactive data")
	return nil
}

func (l *Log) Defragment(ctx context.Context) error {
	l.log.Info("defragment")
	return nil
}

func (l *Log) OptimizeServices(ctx context.Context) error {
	l.log.Info("optimize services")
	return nil
}

func (l *Log) PrioritizeApp(ctx context.Context, appID string) error {
	l.log.Info("prioritize app", zap.String("app", appID))
	return nil
}

func (l *Log) AllocateExtraMemory(ctx context.Context, appID string) error {
	l.log.Info("allocate extra memory", zap.String("app", appID))
	return nil
}
