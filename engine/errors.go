package engine

import "errors"

var (
	// ErrTelemetryUnavailable means the telemetry source could not be read.
	// The affected cycle skips its prediction and leak updates.
	ErrTelemetryUnavailable = errors.New("telemetry unavailable")

	// ErrDegenerateStatistic marks a statistic that cannot be computed,
	// such as a trend over a zero-mean window. It is never surfaced as a
	// cycle failure.
	ErrDegenerateStatistic = errors.New("degenerate statistic")

	// ErrEffectorFailure wraps an error returned by an external action.
	ErrEffectorFailure = errors.New("effector failure")

	// ErrSchedulerRunning is returned when Start is called twice.
	ErrSchedulerRunning = errors.New("scheduler already running")
)

// ErrUnsupported is returned when the configured effector cannot perform
// an optional action.
var ErrUnsupported = errors.New("not supported by effector")
