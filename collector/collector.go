package collector

import (
	"context"
	"errors"
	"time"

	"github.com/ftahirops/xmem/model"
)

// ErrNoData is returned by sources that have nothing to report yet.
var ErrNoData = errors.New("no telemetry data")

// Source supplies telemetry. Implementations must be safe to call
// repeatedly and cheaply.
type Source interface {
	Name() string
	QueryTelemetry(ctx context.Context) ([]model.TelemetrySnapshot, error)
	QuerySystemMemory(ctx context.Context) (model.SystemMemoryState, error)
}

// HistorySource is a Source that can also hand back its own past samples.
// When available the engine rebuilds its usage history from it on every
// learning pass instead of accumulating live samples.
type HistorySource interface {
	Source
	QueryHistory(ctx context.Context, since time.Time) ([]model.TelemetrySnapshot, error)
}
