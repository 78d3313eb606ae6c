package model

import "time"

// Consumer is one app's share of memory.
type Consumer struct {
	AppID string  `json:"app_id"`
	Bytes int64   `json:"bytes"`
	Pct   float64 `json:"pct"` // share of total system memory
}

// MemoryAnalysis is a point-in-time breakdown of memory by app.
type MemoryAnalysis struct {
	Timestamp    time.Time         `json:"timestamp"`
	Memory       SystemMemoryState `json:"memory"`
	Distribution []Consumer        `json:"distribution"`
	Largest      []Consumer        `json:"largest"`
}

// EngineStatus summarizes the engine's latest cycle.
type EngineStatus struct {
	LastCycle   time.Time           `json:"last_cycle"`
	LastError   string              `json:"last_error,omitempty"`
	Bucket      TimeBucket          `json:"bucket"`
	Memory      SystemMemoryState   `json:"memory"`
	Apps        []TelemetrySnapshot `json:"apps"`
	Predicted   PredictedAllocation `json:"predicted"`
	Leaks       []LeakVerdict       `json:"leaks"`
	LastRun     *PipelineReport     `json:"last_run,omitempty"`
	SchedulerOn bool                `json:"scheduler_running"`
}
