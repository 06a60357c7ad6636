package model

import "time"

// RollingMetrics holds a scope's running totals. The per-category and
// per-severity counters are cumulative for the life of the stream, not
// windowed; EventsPerMinute is a true trailing-60s count recomputed from
// the buffer on every ingestion.
type RollingMetrics struct {
	TotalEventsReceived int64              `json:"total_events_received"`
	EventsPerMinute     int                `json:"events_per_minute"`
	EventsByCategory    map[Category]int64 `json:"events_by_category"`
	EventsBySeverity    map[Severity]int64 `json:"events_by_severity"`
}

// OperatorWorkload tracks the open-task load for one operator.
type OperatorWorkload struct {
	OperatorID   string `json:"operator_id"`
	OperatorName string `json:"operator_name,omitempty"`
	ActiveTasks  int    `json:"active_tasks"`
	Critical     int    `json:"critical"`
	High         int    `json:"high"`
	Medium       int    `json:"medium"`
	Low          int    `json:"low"`
}

// StreamHealth carries liveness indicators for one scope's stream.
type StreamHealth struct {
	IsActive          bool          `json:"is_active"`
	LastEventReceived time.Time     `json:"last_event_received"`
	EventLag          time.Duration `json:"event_lag"`
	MissedEvents      int64         `json:"missed_events"`
}

// StreamSnapshot is an immutable copy of one scope's stream state, taken
// under the scope lock. Readers (aggregation, query results) only ever see
// snapshots; the live state is mutated exclusively by the store's ingestion
// path.
type StreamSnapshot struct {
	Scope       Scope                       `json:"scope"`
	Events      []Event                     `json:"recent_events"`
	Rolling     RollingMetrics              `json:"rolling_metrics"`
	Countdowns  map[string]SLACountdown     `json:"sla_countdowns"`
	Workload    map[string]OperatorWorkload `json:"workload_state"`
	Health      StreamHealth                `json:"stream_health"`
	LastUpdated time.Time                   `json:"last_updated"`
}
