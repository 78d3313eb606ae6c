package model

import (
	"fmt"
	"time"
)

// TelemetrySnapshot is one per-app sample from the telemetry source.
// Values are never mutated after creation.
type TelemetrySnapshot struct {
	AppID            string `json:"app_id"`
	MemoryUsageBytes int64  `json:"memory_usage_bytes"`
	ForegroundTimeMs int64  `json:"foreground_time_ms"`
	SampledAtEpochMs int64  `json:"sampled_at_ms"`
}

// SampledAt returns the sample time.
func (s TelemetrySnapshot) SampledAt() time.Time {
	return time.UnixMilli(s.SampledAtEpochMs)
}

// SystemMemoryState is a point-in-time read of system memory.
type SystemMemoryState struct {
	TotalBytes     int64   `json:"total_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	LowMemory      bool    `json:"low_memory"`
	PressureFull   float64 `json:"pressure_full_avg10,omitempty"` // PSI memory full avg10, percent
}

// FreeRatio returns available/total, or 0 when total is unknown.
func (m SystemMemoryState) FreeRatio() float64 {
	if m.TotalBytes <= 0 {
		return 0
	}
	return float64(m.AvailableBytes) / float64(m.TotalBytes)
}

// Below reports whether available memory is under ratio × total.
func (m SystemMemoryState) Below(ratio float64) bool {
	return float64(m.AvailableBytes) < float64(m.TotalBytes)*ratio
}

// TimeBucket correlates samples taken at the same day of week and hour.
type TimeBucket struct {
	DayOfWeek int `json:"day_of_week"` // 1 = Sunday .. 7 = Saturday
	HourOfDay int `json:"hour_of_day"` // 0..23
}

// BucketOf returns the bucket of t in t's location.
func BucketOf(t time.Time) TimeBucket {
	return TimeBucket{
		DayOfWeek: int(t.Weekday()) + 1,
		HourOfDay: t.Hour(),
	}
}

func (b TimeBucket) String() string {
	return fmt.Sprintf("%s %02d:00", time.Weekday(b.DayOfWeek - 1).String()[:3], b.HourOfDay)
}

// PredictedAllocation maps appID to predicted bytes for the current bucket.
// A missing key means "no prediction", which is not the same as zero.
type PredictedAllocation map[string]int64

// LeakVerdict flags an app whose recent usage trend exceeds the threshold.
type LeakVerdict struct {
	AppID string  `json:"app_id"`
	Trend float64 `json:"trend"`
}
