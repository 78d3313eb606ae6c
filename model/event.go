package model

import "time"

// LeakEpisode spans the consecutive cycles in which an app carried a leak verdict.
type LeakEpisode struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Duration  int       `json:"duration_sec,omitempty"`
	PeakTrend float64   `json:"peak_trend"`
	LastTrend float64   `json:"last_trend"`
	PeakUsage int64     `json:"peak_usage_bytes,omitempty"`
	Cycles    int       `json:"cycles"`
	Active    bool      `json:"active"`
}
