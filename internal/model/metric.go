package model

import "time"

// MetricCategory names one of the derived metric families.
type MetricCategory string

const (
	MetricLiveWorkload    MetricCategory = "live-workload"
	MetricActiveTasks     MetricCategory = "active-tasks"
	MetricSLACountdown    MetricCategory = "sla-countdown"
	MetricResponseLatency MetricCategory = "response-latency"
	MetricRemediation     MetricCategory = "remediation-timeline"
	MetricCrossEnginePerf MetricCategory = "cross-engine-performance"
	MetricWorkloadDelta   MetricCategory = "workload-delta"
	MetricTrendSignal     MetricCategory = "trend-signal"
)

// MetricCategories lists every derived metric family; a query with no
// explicit categories requests all of them.
var MetricCategories = []MetricCategory{
	MetricLiveWorkload,
	MetricActiveTasks,
	MetricSLACountdown,
	MetricResponseLatency,
	MetricRemediation,
	MetricCrossEnginePerf,
	MetricWorkloadDelta,
	MetricTrendSignal,
}

// ValidMetricCategory reports whether c names a known metric family.
func ValidMetricCategory(c MetricCategory) bool {
	for _, known := range MetricCategories {
		if c == known {
			return true
		}
	}
	return false
}

// TrendDirection classifies how a metric is moving.
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend describes the change of a metric relative to an earlier window.
type Trend struct {
	Direction     TrendDirection `json:"direction"`
	ChangeRate    float64        `json:"change_rate_pct"`
	PreviousValue float64        `json:"previous_value"`
}

// Confidence grades how much data backed a computed metric.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// MetricMeta carries provenance for a computed metric.
type MetricMeta struct {
	SampleSize  int        `json:"sample_size"`
	DataSources []string   `json:"data_sources"`
	Confidence  Confidence `json:"confidence_level"`
}

// Metric is the output of aggregation for one category at one point in
// time. Metrics are always freshly computed from a snapshot; nothing is
// cached across queries.
type Metric struct {
	ID         string                        `json:"metric_id"`
	Category   MetricCategory                `json:"category"`
	Name       string                        `json:"name"`
	Value      float64                       `json:"value"`
	Unit       string                        `json:"unit"`
	Scope      Scope                         `json:"scope"`
	ComputedAt time.Time                     `json:"computed_at"`
	ValidUntil time.Time                     `json:"valid_until"`
	Breakdown  map[string]map[string]float64 `json:"breakdown,omitempty"`
	Trend      *Trend                        `json:"trend,omitempty"`
	Meta       MetricMeta                    `json:"metadata"`
}
