package model

import "time"

// Stage names, in pipeline order.
const (
	StageTrim     = "trim"
	StageCaches   = "clear_caches"
	StageCompress = "compress"
	StageBalance  = "balance"
	StageDefrag   = "defragment"
	StageServices = "optimize_services"
)

// Pipeline triggers.
const (
	TriggerPrediction = "prediction"
	TriggerManual     = "manual"
	TriggerPeriodic   = "periodic"
)

// StageResult records what one pipeline stage did.
type StageResult struct {
	Stage    string             `json:"stage"`
	Ran      bool               `json:"ran"`
	Skipped  string             `json:"skipped,omitempty"` // reason when Ran is false
	Memory   *SystemMemoryState `json:"memory,omitempty"`  // fresh read used by the predicate
	Targets  []string           `json:"targets,omitempty"`
	CapBytes int64              `json:"cap_bytes,omitempty"`
	Errors   []string           `json:"errors,omitempty"`
}

// PipelineReport is the outcome of one optimization pipeline execution.
type PipelineReport struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Apps       int           `json:"apps"`
	Stages     []StageResult `json:"stages"`
	Cancelled  bool          `json:"cancelled,omitempty"`
}

// Stage returns the result for the named stage, or nil.
func (r *PipelineReport) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// ErrorCount returns the number of effector failures across all stages.
func (r *PipelineReport) ErrorCount() int {
	n := 0
	for _, s := range r.Stages {
		n += len(s.Errors)
	}
	return n
}
