// Package engine wires the monitor together: it accepts ingested events,
// routes them into stream state, answers policy-gated queries, manages
// subscriptions, and writes every transaction to the audit log.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opspulse/streammon/internal/aggregate"
	"github.com/opspulse/streammon/internal/audit"
	"github.com/opspulse/streammon/internal/metrics"
	"github.com/opspulse/streammon/internal/model"
	"github.com/opspulse/streammon/internal/policy"
	"github.com/opspulse/streammon/internal/store"
)

// subscription is a standing registration. Delivery happens over a bounded
// channel so a slow consumer can never stall ingestion; full channels drop
// the delivery and count it against the scope's missed events.
type subscription struct {
	id         string
	scope      model.Scope
	categories map[model.Category]bool
	ch         chan model.Event
	ctx        model.PolicyContext
}

// Engine is the orchestrator over store, policy, aggregation, and audit.
type Engine struct {
	store   *store.StreamStore
	policy  *policy.Engine
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	seen    *lru.Cache[string, bool]
	subBuf  int

	subMu sync.RWMutex
	subs  map[string]*subscription

	priorMu sync.Mutex
	prior   map[string]*model.StreamSnapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(e *Engine) { e.subBuf = n }
}

// New creates an engine. dedupeCap bounds the duplicate-suppression cache.
func New(st *store.StreamStore, pol *policy.Engine, log *audit.Log, m *metrics.Metrics, dedupeCap int, logger *slog.Logger, opts ...Option) *Engine {
	seen, _ := lru.New[string, bool](dedupeCap)
	e := &Engine{
		store:   st,
		policy:  pol,
		audit:   log,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		seen:    seen,
		subBuf:  64,
		subs:    make(map[string]*subscription),
		prior:   make(map[string]*model.StreamSnapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IngestEvent validates and applies one event. Upstream transports deliver
// at-least-once, so redelivered event IDs are suppressed. Nothing on this
// path panics or returns control before the event is fully applied.
func (e *Engine) IngestEvent(ev model.Event) error {
	started := e.now()

	if err := ev.Validate(); err != nil {
		e.metrics.EventsInvalid.Inc()
		e.audit.Record(audit.KindError, "", ev.Scope.TenantID, map[string]interface{}{
			"stage": "ingest",
			"error": err.Error(),
		})
		return fmt.Errorf("invalid event: %w", err)
	}

	if found, _ := e.seen.ContainsOrAdd(ev.ID, true); found {
		e.metrics.EventsDuplicate.Inc()
		e.logger.Debug("Duplicate event suppressed", "event_id", ev.ID)
		return nil
	}

	e.store.Ingest(ev)
	e.metrics.EventsIngested.Inc()
	e.metrics.ActiveStreams.Set(float64(e.store.ScopeCount()))
	e.metrics.IngestDuration.Observe(e.now().Sub(started).Seconds())

	e.audit.Record(audit.KindEventIngested, ev.OperatorID, ev.Scope.TenantID, map[string]interface{}{
		"event_id": ev.ID,
		"category": string(ev.Category),
		"type":     ev.Type,
		"entity":   ev.EntityID,
	})

	e.notify(ev)
	return nil
}

// IngestEvents applies a batch, continuing past invalid entries. The
// returned error aggregates per-event failures.
func (e *Engine) IngestEvents(events []model.Event) error {
	var failed int
	var firstErr error
	for i := range events {
		if err := e.IngestEvent(events[i]); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events rejected, first: %w", failed, len(events), firstErr)
	}
	return nil
}

// ExecuteQuery evaluates policy, aggregates the requested metric
// categories over the scope's snapshot, filters the results per metric
// visibility, and returns one well-formed result. It never panics past
// this boundary and never returns an error: callers branch on Success.
func (e *Engine) ExecuteQuery(q model.RealTimeQuery, ctx model.PolicyContext) (result model.RealTimeResult) {
	started := e.now()
	result = model.RealTimeResult{
		QueryID:    uuid.NewString(),
		StartedAt:  started,
		Metrics:    []model.Metric{},
		References: map[model.Category][]string{},
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Query execution panicked", "panic", r, "query_id", result.QueryID)
			e.audit.Record(audit.KindError, ctx.UserID, q.Scope.TenantID, map[string]interface{}{
				"stage": "query",
				"panic": fmt.Sprint(r),
			})
			result = model.RealTimeResult{
				QueryID:    result.QueryID,
				Success:    false,
				Error:      fmt.Sprintf("internal error: %v", r),
				ErrorCode:  model.ErrCodeExecutionError,
				Metrics:    []model.Metric{},
				References: map[model.Category][]string{},
				StartedAt:  started,
				DurationMs: float64(e.now().Sub(started)) / float64(time.Millisecond),
			}
			e.metrics.QueriesTotal.WithLabelValues("error").Inc()
		}
	}()

	decision := e.policy.EvaluateQuery(&q, &ctx)
	result.Policy = decision
	e.audit.Record(audit.KindPolicyDecision, ctx.UserID, q.Scope.TenantID, map[string]interface{}{
		"decision_id": decision.ID,
		"allowed":     decision.Allowed,
		"violations":  decision.Violations,
	})

	if !decision.Allowed {
		e.metrics.PolicyDenials.Inc()
		e.metrics.QueriesTotal.WithLabelValues("denied").Inc()
		result.Success = false
		result.Error = fmt.Sprintf("policy denied: %d violation(s)", len(decision.Violations))
		result.ErrorCode = model.ErrCodePolicyDenied
		result.DurationMs = float64(e.now().Sub(started)) / float64(time.Millisecond)
		return result
	}

	snap, ok := e.store.Snapshot(q.Scope)
	if !ok {
		e.metrics.QueriesTotal.WithLabelValues("no_state").Inc()
		result.Success = false
		result.Error = fmt.Sprintf("no stream state for scope %s", q.Scope.Key())
		result.ErrorCode = model.ErrCodeNoStreamState
		result.DurationMs = float64(e.now().Sub(started)) / float64(time.Millisecond)
		return result
	}

	// The prior baseline captures the unfiltered view; severity filtering
	// narrows only this query's event basis.
	prior := e.swapPrior(q.Scope, snap)
	if len(q.SeverityFilter) > 0 {
		snap = filterSeverity(snap, q.SeverityFilter)
	}
	now := e.now()
	opts := aggregate.Options{OperatorIDs: q.OperatorIDs}

	var metricNames []string
	for _, cat := range q.EffectiveCategories() {
		metric, err := aggregate.Compute(cat, snap, prior, opts, now)
		if err != nil {
			e.audit.Record(audit.KindError, ctx.UserID, q.Scope.TenantID, map[string]interface{}{
				"stage":    "aggregate",
				"category": string(cat),
				"error":    err.Error(),
			})
			continue
		}
		if vis := e.policy.EvaluateMetricVisibility(&metric, &ctx); !vis.Allowed {
			continue
		}
		if !q.IncludeBreakdown {
			metric.Breakdown = nil
		}
		if !q.IncludeTrend {
			metric.Trend = nil
		}
		result.Metrics = append(result.Metrics, metric)
		metricNames = append(metricNames, metric.Name)
	}

	result.References = buildReferences(snap)
	result.Summary = buildSummary(snap, now)
	if q.IncludeHistory {
		result.Stream = snap
	}

	e.audit.Record(audit.KindMetricComputed, ctx.UserID, q.Scope.TenantID, map[string]interface{}{
		"query_id": result.QueryID,
		"metrics":  metricNames,
	})

	result.Success = true
	result.DurationMs = float64(e.now().Sub(started)) / float64(time.Millisecond)
	e.metrics.QueriesTotal.WithLabelValues("ok").Inc()
	e.metrics.QueryDuration.Observe(e.now().Sub(started).Seconds())
	return result
}

// Subscribe registers a live subscription and returns its ID and the
// delivery channel. Each delivered event passes an event-visibility check
// at delivery time, not at subscribe time.
func (e *Engine) Subscribe(scope model.Scope, categories []model.Category, ctx model.PolicyContext) (string, <-chan model.Event) {
	sub := &subscription{
		id:         uuid.NewString(),
		scope:      scope,
		categories: make(map[model.Category]bool, len(categories)),
		ch:         make(chan model.Event, e.subBuf),
		ctx:        ctx,
	}
	for _, c := range categories {
		sub.categories[c] = true
	}

	e.subMu.Lock()
	e.subs[sub.id] = sub
	e.metrics.Subscriptions.Set(float64(len(e.subs)))
	e.subMu.Unlock()

	e.logger.Info("Subscription created", "subscription_id", sub.id, "scope", scope.Key())
	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	sub, ok := e.subs[id]
	if ok {
		delete(e.subs, id)
		close(sub.ch)
	}
	e.metrics.Subscriptions.Set(float64(len(e.subs)))
	e.subMu.Unlock()

	if ok {
		e.logger.Info("Subscription removed", "subscription_id", id)
	}
}

// notify fans an event out to matching subscribers without ever blocking:
// a full channel drops the delivery and records it as missed.
func (e *Engine) notify(ev model.Event) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	for _, sub := range e.subs {
		if sub.scope.Key() != ev.Scope.Key() {
			continue
		}
		if len(sub.categories) > 0 && !sub.categories[ev.Category] {
			continue
		}
		if vis := e.policy.EvaluateEventVisibility(&ev, &sub.ctx); !vis.Allowed {
			continue
		}

		select {
		case sub.ch <- ev:
		default:
			e.metrics.SubscriberDrops.Inc()
			e.store.RecordMissed(ev.Scope)
			e.logger.Warn("Subscriber channel full, delivery dropped",
				"subscription_id", sub.id, "event_id", ev.ID)
		}
	}
}

// filterSeverity returns a shallow copy of the snapshot whose event buffer
// holds only the given severities. The input snapshot is left intact; the
// prior-baseline cache may still reference it.
func filterSeverity(snap *model.StreamSnapshot, severities []model.Severity) *model.StreamSnapshot {
	wanted := make(map[model.Severity]bool, len(severities))
	for _, s := range severities {
		wanted[s] = true
	}
	filtered := make([]model.Event, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if wanted[ev.Severity] {
			filtered = append(filtered, ev)
		}
	}
	narrowed := *snap
	narrowed.Events = filtered
	return &narrowed
}

// swapPrior returns the snapshot captured at the previous query for the
// scope and stores the current one, feeding the workload-delta metric.
func (e *Engine) swapPrior(scope model.Scope, snap *model.StreamSnapshot) *model.StreamSnapshot {
	key := scope.Key()
	e.priorMu.Lock()
	defer e.priorMu.Unlock()
	prior := e.prior[key]
	e.prior[key] = snap
	return prior
}

// buildReferences groups buffered entity IDs by source category.
func buildReferences(snap *model.StreamSnapshot) map[model.Category][]string {
	seen := map[model.Category]map[string]bool{}
	refs := map[model.Category][]string{}
	for _, ev := range snap.Events {
		if seen[ev.Category] == nil {
			seen[ev.Category] = map[string]bool{}
		}
		if seen[ev.Category][ev.EntityID] {
			continue
		}
		seen[ev.Category][ev.EntityID] = true
		refs[ev.Category] = append(refs[ev.Category], ev.EntityID)
	}
	return refs
}

// buildSummary derives the human-readable digest from a snapshot.
func buildSummary(snap *model.StreamSnapshot, now time.Time) model.ResultSummary {
	summary := model.ResultSummary{
		OperatorsOnline: len(snap.Workload),
	}

	activeTasks := aggregate.ActiveTasks(snap, now)
	summary.ActiveTasks = int(activeTasks.Value)

	latency := aggregate.ResponseLatency(snap, now)
	summary.AvgResponseMinutes = latency.Value

	openAlerts := map[string]bool{}
	for _, ev := range snap.Events {
		if ev.Category != model.CategoryAlertLifecycle {
			continue
		}
		switch ev.Type {
		case "detected":
			openAlerts[ev.EntityID] = true
		case "resolved", "dismissed":
			delete(openAlerts, ev.EntityID)
		}
	}
	summary.ActiveAlerts = len(openAlerts)

	total, withinSLA := 0, 0
	for _, c := range snap.Countdowns {
		c.Evaluate(now)
		total++
		if c.Status != model.SLAStatusBreach {
			withinSLA++
		}
	}
	if total > 0 {
		summary.SLAAdherencePct = float64(withinSLA) / float64(total) * 100
	} else {
		summary.SLAAdherencePct = 100
	}
	return summary
}
