// Package aggregate computes derived metrics from stream snapshots. Every
// function here is pure: given the same snapshot (and prior snapshot, for
// delta metrics) and the same clock value, the output value and breakdown
// are identical.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opspulse/streammon/internal/model"
)

// metricFreshness is the ValidUntil hint attached to computed metrics. It
// is advisory only; nothing enforces expiry.
const metricFreshness = 30 * time.Second

// stableBandPct is the absolute percentage change under which a trend is
// classified as stable.
const stableBandPct = 10.0

// remediationCategories are the source categories that carry open/close
// remediation lifecycles.
var remediationCategories = []model.Category{
	model.CategoryTaskLifecycle,
	model.CategoryAlertLifecycle,
	model.CategoryAuditFinding,
	model.CategoryDriftDetection,
	model.CategoryGovernance,
}

// Options narrows what a computation looks at.
type Options struct {
	OperatorIDs []string
}

// Compute dispatches to the computation for one metric category. prior may
// be nil; workload-delta then degrades to a zero delta at low confidence.
func Compute(cat model.MetricCategory, snap, prior *model.StreamSnapshot, opts Options, now time.Time) (model.Metric, error) {
	switch cat {
	case model.MetricLiveWorkload:
		return LiveWorkload(snap, opts.OperatorIDs, now), nil
	case model.MetricActiveTasks:
		return ActiveTasks(snap, now), nil
	case model.MetricSLACountdown:
		return SLACountdowns(snap, now), nil
	case model.MetricResponseLatency:
		return ResponseLatency(snap, now), nil
	case model.MetricRemediation:
		return RemediationTimeline(snap, now), nil
	case model.MetricCrossEnginePerf:
		return CrossEnginePerformance(snap, now), nil
	case model.MetricWorkloadDelta:
		return WorkloadDelta(snap, prior, now), nil
	case model.MetricTrendSignal:
		return TrendSignal(snap, now), nil
	default:
		return model.Metric{}, fmt.Errorf("unknown metric category %q", cat)
	}
}

// LiveWorkload sums active tasks across operators, optionally filtered to
// the given operator IDs, with per-operator and per-severity breakdowns.
func LiveWorkload(snap *model.StreamSnapshot, operatorIDs []string, now time.Time) model.Metric {
	m := newMetric(model.MetricLiveWorkload, "live_workload", "tasks", snap.Scope, now)

	wanted := map[string]bool{}
	for _, id := range operatorIDs {
		wanted[id] = true
	}

	byOperator := map[string]float64{}
	bySeverity := map[string]float64{}
	total := 0
	for id, w := range snap.Workload {
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		total += w.ActiveTasks
		byOperator[id] = float64(w.ActiveTasks)
		bySeverity[string(model.SeverityCritical)] += float64(w.Critical)
		bySeverity[string(model.SeverityHigh)] += float64(w.High)
		bySeverity[string(model.SeverityMedium)] += float64(w.Medium)
		bySeverity[string(model.SeverityLow)] += float64(w.Low)
	}

	m.Value = float64(total)
	m.Breakdown = map[string]map[string]float64{
		"operator": byOperator,
		"severity": bySeverity,
	}
	m.Meta = meta(len(byOperator), model.CategoryTaskLifecycle)
	return m
}

// ActiveTasks replays the buffered task-lifecycle events in timestamp
// order, maintaining the working set of currently open entity IDs.
func ActiveTasks(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricActiveTasks, "active_tasks", "tasks", snap.Scope, now)

	open := map[string]model.Severity{}
	opened, closed := 0, 0
	samples := 0
	for _, ev := range byTimestamp(snap.Events) {
		if ev.Category != model.CategoryTaskLifecycle {
			continue
		}
		samples++
		switch ev.Type {
		case "created", "assigned", "in-progress":
			if _, exists := open[ev.EntityID]; !exists {
				opened++
			}
			open[ev.EntityID] = ev.Severity
		case "resolved", "dismissed":
			if _, exists := open[ev.EntityID]; exists {
				closed++
			}
			delete(open, ev.EntityID)
		}
	}

	bySeverity := map[string]float64{}
	for _, sev := range open {
		bySeverity[string(sev)]++
	}

	m.Value = float64(len(open))
	m.Breakdown = map[string]map[string]float64{
		"severity": bySeverity,
		"lifecycle": {
			"opened": float64(opened),
			"closed": float64(closed),
		},
	}
	m.Meta = meta(samples, model.CategoryTaskLifecycle)
	return m
}

// SLACountdowns reports active countdown counts by status and severity,
// re-evaluated against now so a query observes breaches the moment they
// happen, not only on the next ingestion.
func SLACountdowns(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricSLACountdown, "sla_countdowns", "countdowns", snap.Scope, now)

	byStatus := map[string]float64{}
	bySeverity := map[string]float64{}
	for _, c := range snap.Countdowns {
		c.Evaluate(now)
		byStatus[string(c.Status)]++
		bySeverity[string(c.Severity)]++
	}

	m.Value = float64(len(snap.Countdowns))
	m.Breakdown = map[string]map[string]float64{
		"status":   byStatus,
		"severity": bySeverity,
	}
	m.Meta = meta(len(snap.Countdowns), model.CategoryTaskLifecycle, model.CategoryAlertLifecycle)
	return m
}

// ResponseLatency pairs each alert "detected" with its "acknowledged"
// event for the same entity and reports the mean time-to-acknowledge in
// minutes across all paired alerts in the buffer.
func ResponseLatency(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricResponseLatency, "response_latency", "minutes", snap.Scope, now)

	detected := map[string]time.Time{}
	var totalMinutes float64
	pairs := 0
	for _, ev := range byTimestamp(snap.Events) {
		if ev.Category != model.CategoryAlertLifecycle {
			continue
		}
		switch ev.Type {
		case "detected":
			if _, seen := detected[ev.EntityID]; !seen {
				detected[ev.EntityID] = ev.Timestamp
			}
		case "acknowledged":
			if start, seen := detected[ev.EntityID]; seen {
				totalMinutes += ev.Timestamp.Sub(start).Minutes()
				pairs++
				delete(detected, ev.EntityID)
			}
		}
	}

	if pairs > 0 {
		m.Value = totalMinutes / float64(pairs)
	}
	m.Meta = meta(pairs, model.CategoryAlertLifecycle)
	m.Meta.Confidence = latencyConfidence(pairs)
	return m
}

// RemediationTimeline tracks open versus closed entity sets for each of
// the remediation-bearing categories and reports the summed open count.
func RemediationTimeline(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricRemediation, "remediation_timeline", "items", snap.Scope, now)

	openByCat := map[model.Category]map[string]bool{}
	for _, cat := range remediationCategories {
		openByCat[cat] = map[string]bool{}
	}

	samples := 0
	for _, ev := range byTimestamp(snap.Events) {
		set, tracked := openByCat[ev.Category]
		if !tracked {
			continue
		}
		samples++
		switch ev.Type {
		case "created", "detected", "opened", "assigned", "in-progress":
			set[ev.EntityID] = true
		case "resolved", "dismissed", "closed":
			delete(set, ev.EntityID)
		}
	}

	byCategory := map[string]float64{}
	total := 0
	for cat, set := range openByCat {
		byCategory[string(cat)] = float64(len(set))
		total += len(set)
	}

	m.Value = float64(total)
	m.Breakdown = map[string]map[string]float64{"category": byCategory}
	m.Meta = meta(samples, remediationCategories...)
	return m
}

// CrossEnginePerformance reports the stream's events-per-minute along with
// a trend comparing the trailing 60s window to the 60s before it.
func CrossEnginePerformance(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricCrossEnginePerf, "cross_engine_performance", "events/min", snap.Scope, now)

	current := countBetween(snap.Events, now.Add(-time.Minute), now)
	previous := countBetween(snap.Events, now.Add(-2*time.Minute), now.Add(-time.Minute))

	m.Value = float64(snap.Rolling.EventsPerMinute)
	m.Trend = buildTrend(float64(current), float64(previous))
	m.Meta = meta(current+previous, model.Categories...)
	return m
}

// WorkloadDelta reports the change in total active tasks between the
// current snapshot and a previously captured one. Without a prior snapshot
// the delta is zero at low confidence; this metric is not computable from
// current state alone.
func WorkloadDelta(snap, prior *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricWorkloadDelta, "workload_delta", "tasks", snap.Scope, now)

	current := totalActiveTasks(snap)
	if prior == nil {
		m.Meta = meta(0, model.CategoryTaskLifecycle)
		m.Meta.Confidence = model.ConfidenceLow
		return m
	}

	previous := totalActiveTasks(prior)
	m.Value = float64(current - previous)
	m.Trend = buildTrend(float64(current), float64(previous))
	m.Meta = meta(len(snap.Workload)+len(prior.Workload), model.CategoryTaskLifecycle)
	return m
}

// TrendSignal buckets the trailing five minutes of buffered events into
// consecutive 60-second windows and classifies the movement from the
// oldest bucket to the newest.
func TrendSignal(snap *model.StreamSnapshot, now time.Time) model.Metric {
	m := newMetric(model.MetricTrendSignal, "trend_signal", "events/min", snap.Scope, now)

	buckets := map[string]float64{}
	total := 0
	for i := 0; i < 5; i++ {
		// bucket 0 is oldest (t-5m..t-4m), bucket 4 newest (t-1m..t).
		from := now.Add(-time.Duration(5-i) * time.Minute)
		to := now.Add(-time.Duration(4-i) * time.Minute)
		n := countBetween(snap.Events, from, to)
		buckets[fmt.Sprintf("%d", i)] = float64(n)
		total += n
	}

	oldest := buckets["0"]
	newest := buckets["4"]
	m.Value = newest
	m.Trend = buildTrend(newest, oldest)
	m.Breakdown = map[string]map[string]float64{"bucket": buckets}
	m.Meta = meta(total, model.Categories...)
	return m
}

// PercentChange computes (new-old)/old*100, defined as 0 when old is 0 so
// no NaN or Inf ever leaves the aggregator.
func PercentChange(newValue, oldValue float64) float64 {
	if oldValue == 0 {
		return 0
	}
	return (newValue - oldValue) / oldValue * 100
}

func buildTrend(current, previous float64) *model.Trend {
	change := PercentChange(current, previous)
	direction := model.TrendStable
	switch {
	case change >= stableBandPct:
		direction = model.TrendIncreasing
	case change <= -stableBandPct:
		direction = model.TrendDecreasing
	}
	return &model.Trend{
		Direction:     direction,
		ChangeRate:    change,
		PreviousValue: previous,
	}
}

func latencyConfidence(samples int) model.Confidence {
	switch {
	case samples >= 5:
		return model.ConfidenceHigh
	case samples >= 2:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

func totalActiveTasks(snap *model.StreamSnapshot) int {
	total := 0
	for _, w := range snap.Workload {
		total += w.ActiveTasks
	}
	return total
}

// byTimestamp returns a copy of events sorted by Timestamp. The buffer is
// kept in arrival order, but lifecycle replay must honor event time, so an
// out-of-order close cannot shadow an earlier-arriving open. The sort is
// stable to preserve arrival order across equal timestamps.
func byTimestamp(events []model.Event) []model.Event {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// countBetween counts buffered events with from <= timestamp < to.
func countBetween(events []model.Event, from, to time.Time) int {
	n := 0
	for _, ev := range events {
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		n++
	}
	return n
}

func newMetric(cat model.MetricCategory, name, unit string, scope model.Scope, now time.Time) model.Metric {
	return model.Metric{
		ID:         uuid.NewString(),
		Category:   cat,
		Name:       name,
		Unit:       unit,
		Scope:      scope,
		ComputedAt: now,
		ValidUntil: now.Add(metricFreshness),
	}
}

func meta(samples int, sources ...model.Category) model.MetricMeta {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return model.MetricMeta{
		SampleSize:  samples,
		DataSources: names,
		Confidence:  model.ConfidenceHigh,
	}
}
