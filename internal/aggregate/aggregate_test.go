package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/streammon/internal/model"
)

var (
	baseTime  = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	testScope = model.Scope{TenantID: "t1"}
)

func snapshot(events ...model.Event) *model.StreamSnapshot {
	return &model.StreamSnapshot{
		Scope:      testScope,
		Events:     events,
		Countdowns: map[string]model.SLACountdown{},
		Workload:   map[string]model.OperatorWorkload{},
	}
}

func event(id string, cat model.Category, eventType string, entityID string, ts time.Time) model.Event {
	return model.Event{
		ID:        id,
		Category:  cat,
		Type:      eventType,
		Timestamp: ts,
		Scope:     testScope,
		Severity:  model.SeverityMedium,
		EntityID:  entityID,
		Metadata:  map[string]interface{}{"source_system": "test"},
	}
}

func TestResponseLatencyMeanAndConfidence(t *testing.T) {
	// Five detected/acknowledged pairs with ack delays of 1..5 minutes.
	var events []model.Event
	for i := 1; i <= 5; i++ {
		entity := fmt.Sprintf("alert-%d", i)
		detectedAt := baseTime.Add(time.Duration(i) * 10 * time.Minute)
		events = append(events,
			event(fmt.Sprintf("d-%d", i), model.CategoryAlertLifecycle, "detected", entity, detectedAt),
			event(fmt.Sprintf("a-%d", i), model.CategoryAlertLifecycle, "acknowledged", entity, detectedAt.Add(time.Duration(i)*time.Minute)),
		)
	}

	m := ResponseLatency(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 3.0, m.Value)
	assert.Equal(t, model.ConfidenceHigh, m.Meta.Confidence)
	assert.Equal(t, 5, m.Meta.SampleSize)
}

func TestResponseLatencyConfidenceLadder(t *testing.T) {
	tests := []struct {
		pairs int
		want  model.Confidence
	}{
		{0, model.ConfidenceLow},
		{1, model.ConfidenceLow},
		{2, model.ConfidenceMedium},
		{4, model.ConfidenceMedium},
		{5, model.ConfidenceHigh},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d pairs", tt.pairs), func(t *testing.T) {
			var events []model.Event
			for i := 0; i < tt.pairs; i++ {
				entity := fmt.Sprintf("alert-%d", i)
				at := baseTime.Add(time.Duration(i) * time.Minute)
				events = append(events,
					event(fmt.Sprintf("d-%d", i), model.CategoryAlertLifecycle, "detected", entity, at),
					event(fmt.Sprintf("a-%d", i), model.CategoryAlertLifecycle, "acknowledged", entity, at.Add(time.Minute)),
				)
			}
			m := ResponseLatency(snapshot(events...), baseTime.Add(time.Hour))
			assert.Equal(t, tt.want, m.Meta.Confidence)
			assert.Equal(t, tt.pairs, m.Meta.SampleSize)
		})
	}
}

func TestActiveTasksReplay(t *testing.T) {
	events := []model.Event{
		event("e1", model.CategoryTaskLifecycle, "created", "task-1", baseTime),
		event("e2", model.CategoryTaskLifecycle, "created", "task-2", baseTime.Add(time.Minute)),
		event("e3", model.CategoryTaskLifecycle, "assigned", "task-1", baseTime.Add(2*time.Minute)),
		event("e4", model.CategoryTaskLifecycle, "resolved", "task-2", baseTime.Add(3*time.Minute)),
		event("e5", model.CategoryTaskLifecycle, "created", "task-3", baseTime.Add(4*time.Minute)),
		// Non-task events are ignored by the replay.
		event("e6", model.CategoryAlertLifecycle, "detected", "alert-1", baseTime.Add(5*time.Minute)),
	}

	m := ActiveTasks(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 2.0, m.Value)
	assert.Equal(t, 2.0, m.Breakdown["severity"][string(model.SeverityMedium)])
	assert.Equal(t, 3.0, m.Breakdown["lifecycle"]["opened"])
	assert.Equal(t, 1.0, m.Breakdown["lifecycle"]["closed"])
}

func TestActiveTasksReplaysInTimestampOrder(t *testing.T) {
	// The resolve arrives first but carries the earlier timestamp: the
	// replay must order by event time, leaving the task open.
	events := []model.Event{
		event("e1", model.CategoryTaskLifecycle, "resolved", "task-1", baseTime.Add(time.Minute)),
		event("e2", model.CategoryTaskLifecycle, "created", "task-1", baseTime.Add(2*time.Minute)),
	}

	m := ActiveTasks(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 1.0, m.Value)
	assert.Equal(t, 1.0, m.Breakdown["lifecycle"]["opened"])
	assert.Equal(t, 0.0, m.Breakdown["lifecycle"]["closed"])
}

func TestRemediationTimelineHonorsEventTime(t *testing.T) {
	// Late-arriving open with an earlier timestamp than the already-buffered
	// close: the drift stays closed after ordering by event time.
	events := []model.Event{
		event("e1", model.CategoryDriftDetection, "resolved", "drift-1", baseTime.Add(2*time.Minute)),
		event("e2", model.CategoryDriftDetection, "detected", "drift-1", baseTime.Add(time.Minute)),
	}

	m := RemediationTimeline(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 0.0, m.Breakdown["category"][string(model.CategoryDriftDetection)])
}

func TestResponseLatencyWithOutOfOrderArrival(t *testing.T) {
	// Acknowledgement arrives before its detection; pairing still uses
	// timestamps, giving a 2 minute latency.
	events := []model.Event{
		event("a-1", model.CategoryAlertLifecycle, "acknowledged", "alert-1", baseTime.Add(2*time.Minute)),
		event("d-1", model.CategoryAlertLifecycle, "detected", "alert-1", baseTime),
	}

	m := ResponseLatency(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 2.0, m.Value)
	assert.Equal(t, 1, m.Meta.SampleSize)
}

func TestLiveWorkloadFilterAndBreakdown(t *testing.T) {
	snap := snapshot()
	snap.Workload = map[string]model.OperatorWorkload{
		"op-1": {OperatorID: "op-1", ActiveTasks: 3, Critical: 1, High: 2},
		"op-2": {OperatorID: "op-2", ActiveTasks: 2, Medium: 2},
	}

	all := LiveWorkload(snap, nil, baseTime)
	assert.Equal(t, 5.0, all.Value)
	assert.Equal(t, 3.0, all.Breakdown["operator"]["op-1"])
	assert.Equal(t, 1.0, all.Breakdown["severity"][string(model.SeverityCritical)])

	one := LiveWorkload(snap, []string{"op-2"}, baseTime)
	assert.Equal(t, 2.0, one.Value)
	assert.NotContains(t, one.Breakdown["operator"], "op-1")
}

func TestSLACountdownsEvaluatedAtQueryTime(t *testing.T) {
	snap := snapshot()
	snap.Countdowns = map[string]model.SLACountdown{
		"task-1": {
			EntityID:       "task-1",
			Severity:       model.SeverityCritical,
			StartTime:      baseTime.Add(-5 * time.Hour),
			ThresholdHours: 4,
			Status:         model.SLAStatusWarning,
		},
		"task-2": {
			EntityID:       "task-2",
			Severity:       model.SeverityHigh,
			StartTime:      baseTime,
			ThresholdHours: 24,
			Status:         model.SLAStatusOK,
		},
	}

	m := SLACountdowns(snap, baseTime)
	assert.Equal(t, 2.0, m.Value)
	// task-1 passed its threshold between ingestions: the query still sees
	// the breach.
	assert.Equal(t, 1.0, m.Breakdown["status"][string(model.SLAStatusBreach)])
	assert.Equal(t, 1.0, m.Breakdown["status"][string(model.SLAStatusOK)])
	assert.Equal(t, 1.0, m.Breakdown["severity"][string(model.SeverityCritical)])
}

func TestRemediationTimeline(t *testing.T) {
	events := []model.Event{
		event("e1", model.CategoryTaskLifecycle, "created", "task-1", baseTime),
		event("e2", model.CategoryAuditFinding, "opened", "finding-1", baseTime),
		event("e3", model.CategoryDriftDetection, "detected", "drift-1", baseTime),
		event("e4", model.CategoryDriftDetection, "resolved", "drift-1", baseTime.Add(time.Minute)),
		event("e5", model.CategoryGovernance, "opened", "ctrl-1", baseTime),
		// Documentation is not a remediation-bearing category.
		event("e6", model.CategoryDocumentation, "created", "doc-1", baseTime),
	}

	m := RemediationTimeline(snapshot(events...), baseTime.Add(time.Hour))
	assert.Equal(t, 3.0, m.Value)
	assert.Equal(t, 1.0, m.Breakdown["category"][string(model.CategoryTaskLifecycle)])
	assert.Equal(t, 0.0, m.Breakdown["category"][string(model.CategoryDriftDetection)])
	assert.NotContains(t, m.Breakdown["category"], string(model.CategoryDocumentation))
}

func TestCrossEnginePerformanceTrend(t *testing.T) {
	now := baseTime
	var events []model.Event
	// 2 events in the prior minute, 4 in the current one.
	for i := 0; i < 2; i++ {
		events = append(events, event(fmt.Sprintf("p-%d", i), model.CategoryAnalytics, "recorded", fmt.Sprintf("pe-%d", i), now.Add(-90*time.Second)))
	}
	for i := 0; i < 4; i++ {
		events = append(events, event(fmt.Sprintf("c-%d", i), model.CategoryAnalytics, "recorded", fmt.Sprintf("ce-%d", i), now.Add(-30*time.Second)))
	}

	snap := snapshot(events...)
	snap.Rolling.EventsPerMinute = 4

	m := CrossEnginePerformance(snap, now)
	assert.Equal(t, 4.0, m.Value)
	require.NotNil(t, m.Trend)
	assert.Equal(t, model.TrendIncreasing, m.Trend.Direction)
	assert.Equal(t, 100.0, m.Trend.ChangeRate)
	assert.Equal(t, 2.0, m.Trend.PreviousValue)
}

func TestWorkloadDelta(t *testing.T) {
	current := snapshot()
	current.Workload = map[string]model.OperatorWorkload{
		"op-1": {OperatorID: "op-1", ActiveTasks: 5},
	}
	prior := snapshot()
	prior.Workload = map[string]model.OperatorWorkload{
		"op-1": {OperatorID: "op-1", ActiveTasks: 2},
	}

	m := WorkloadDelta(current, prior, baseTime)
	assert.Equal(t, 3.0, m.Value)
	require.NotNil(t, m.Trend)
	assert.Equal(t, model.TrendIncreasing, m.Trend.Direction)

	// Without a prior snapshot the delta degrades to zero at low confidence.
	degraded := WorkloadDelta(current, nil, baseTime)
	assert.Equal(t, 0.0, degraded.Value)
	assert.Equal(t, model.ConfidenceLow, degraded.Meta.Confidence)
	assert.Nil(t, degraded.Trend)
}

func TestTrendSignalClassification(t *testing.T) {
	tests := []struct {
		name   string
		oldest int
		newest int
		want   model.TrendDirection
	}{
		{"growth over band", 10, 20, model.TrendIncreasing},
		{"decline over band", 20, 10, model.TrendDecreasing},
		{"small change is stable", 20, 21, model.TrendStable},
		{"empty oldest bucket is stable", 0, 15, model.TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := baseTime
			var events []model.Event
			for i := 0; i < tt.oldest; i++ {
				// Oldest bucket: t-5m .. t-4m.
				events = append(events, event(fmt.Sprintf("o-%d", i), model.CategoryAnalytics, "recorded", fmt.Sprintf("oe-%d", i), now.Add(-270*time.Second)))
			}
			for i := 0; i < tt.newest; i++ {
				// Newest bucket: t-1m .. t.
				events = append(events, event(fmt.Sprintf("n-%d", i), model.CategoryAnalytics, "recorded", fmt.Sprintf("ne-%d", i), now.Add(-30*time.Second)))
			}

			m := TrendSignal(snapshot(events...), now)
			require.NotNil(t, m.Trend)
			assert.Equal(t, tt.want, m.Trend.Direction)
			assert.Equal(t, float64(tt.newest), m.Value)
			assert.Equal(t, float64(tt.oldest), m.Breakdown["bucket"]["0"])
		})
	}
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 0.0, PercentChange(5, 0))
	assert.Equal(t, 0.0, PercentChange(0, 0))
	assert.Equal(t, 100.0, PercentChange(4, 2))
	assert.Equal(t, -50.0, PercentChange(1, 2))
}

func TestComputeIsDeterministic(t *testing.T) {
	events := []model.Event{
		event("e1", model.CategoryTaskLifecycle, "created", "task-1", baseTime),
		event("e2", model.CategoryAlertLifecycle, "detected", "alert-1", baseTime),
		event("e3", model.CategoryAlertLifecycle, "acknowledged", "alert-1", baseTime.Add(2*time.Minute)),
	}
	snap := snapshot(events...)
	snap.Workload = map[string]model.OperatorWorkload{
		"op-1": {OperatorID: "op-1", ActiveTasks: 1, Critical: 1},
	}
	snap.Countdowns = map[string]model.SLACountdown{
		"task-1": {EntityID: "task-1", Severity: model.SeverityCritical, StartTime: baseTime, ThresholdHours: 4},
	}
	now := baseTime.Add(10 * time.Minute)

	for _, cat := range model.MetricCategories {
		t.Run(string(cat), func(t *testing.T) {
			first, err := Compute(cat, snap, snap, Options{}, now)
			require.NoError(t, err)
			second, err := Compute(cat, snap, snap, Options{}, now)
			require.NoError(t, err)

			assert.Equal(t, first.Value, second.Value)
			assert.Equal(t, first.Breakdown, second.Breakdown)
			assert.Equal(t, first.Trend, second.Trend)
			assert.Equal(t, first.Meta, second.Meta)
		})
	}
}

func TestComputeUnknownCategory(t *testing.T) {
	_, err := Compute("made-up", snapshot(), nil, Options{}, baseTime)
	assert.Error(t, err)
}
