package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/opspulse/streammon/internal/model"
)

// nowFunc lets tests pin the clock.
type nowFunc func() time.Time

// StreamStore owns all mutable stream state, one streamState per distinct
// scope key. The scope map is guarded by its own RWMutex and each stream
// by a per-stream mutex, so ingestion for different scopes never contends
// while events for one scope apply in a strict serial order.
type StreamStore struct {
	mu       sync.RWMutex
	streams  map[string]*streamState
	capacity int
	slaHours map[model.Severity]float64
	now      nowFunc
	logger   *slog.Logger
}

// streamState is the live, lock-guarded state for one scope. It is only
// ever mutated by Ingest; readers get deep copies via Snapshot.
type streamState struct {
	mu          sync.Mutex
	scope       model.Scope
	events      []model.Event
	rolling     model.RollingMetrics
	countdowns  map[string]*model.SLACountdown
	workload    map[string]*model.OperatorWorkload
	health      model.StreamHealth
	lastUpdated time.Time
}

// Option configures a StreamStore.
type Option func(*StreamStore)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *StreamStore) { s.now = now }
}

// NewStreamStore creates a store with the given per-scope buffer capacity
// and SLA threshold table.
func NewStreamStore(capacity int, slaHours map[model.Severity]float64, logger *slog.Logger, opts ...Option) *StreamStore {
	s := &StreamStore{
		streams:  make(map[string]*streamState),
		capacity: capacity,
		slaHours: slaHours,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest applies one event to its scope's stream, creating the stream on
// first contact. The whole update (buffer append, counters, SLA
// transitions, workload, health) is applied atomically with respect to
// snapshots of the same scope.
func (s *StreamStore) Ingest(ev model.Event) {
	st := s.stream(ev.Scope)
	now := s.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Buffer append with FIFO eviction.
	st.events = append(st.events, ev)
	if len(st.events) > s.capacity {
		st.events = st.events[len(st.events)-s.capacity:]
	}

	// Cumulative counters plus the trailing-60s sliding count.
	st.rolling.TotalEventsReceived++
	st.rolling.EventsByCategory[ev.Category]++
	st.rolling.EventsBySeverity[ev.Severity]++
	st.rolling.EventsPerMinute = countSince(st.events, now.Add(-time.Minute))

	s.applySLA(st, ev, now)
	applyWorkload(st, ev)

	st.health.IsActive = true
	st.health.LastEventReceived = ev.Timestamp
	st.health.EventLag = now.Sub(ev.Timestamp)
	st.lastUpdated = now
}

// RecordMissed bumps the missed-event counter for a scope, used when a
// subscriber delivery is dropped.
func (s *StreamStore) RecordMissed(scope model.Scope) {
	st := s.stream(scope)
	st.mu.Lock()
	st.health.MissedEvents++
	st.mu.Unlock()
}

// Snapshot returns a deep copy of the scope's state, or false when no
// event has ever arrived for the scope.
func (s *StreamStore) Snapshot(scope model.Scope) (*model.StreamSnapshot, bool) {
	s.mu.RLock()
	st, ok := s.streams[scope.Key()]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap := &model.StreamSnapshot{
		Scope:       st.scope,
		Events:      make([]model.Event, len(st.events)),
		Rolling:     copyRolling(st.rolling),
		Countdowns:  make(map[string]model.SLACountdown, len(st.countdowns)),
		Workload:    make(map[string]model.OperatorWorkload, len(st.workload)),
		Health:      st.health,
		LastUpdated: st.lastUpdated,
	}
	copy(snap.Events, st.events)
	for id, c := range st.countdowns {
		snap.Countdowns[id] = *c
	}
	for id, w := range st.workload {
		snap.Workload[id] = *w
	}
	return snap, true
}

// ScopeCount returns how many distinct scopes hold state.
func (s *StreamStore) ScopeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// stream resolves or lazily creates the state for a scope.
func (s *StreamStore) stream(scope model.Scope) *streamState {
	key := scope.Key()

	s.mu.RLock()
	st, ok := s.streams[key]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[key]; ok {
		return st
	}
	st = &streamState{
		scope: scope,
		rolling: model.RollingMetrics{
			EventsByCategory: make(map[model.Category]int64),
			EventsBySeverity: make(map[model.Severity]int64),
		},
		countdowns: make(map[string]*model.SLACountdown),
		workload:   make(map[string]*model.OperatorWorkload),
	}
	s.streams[key] = st
	s.logger.Debug("Stream state created", "scope", key)
	return st
}

// applySLA runs the countdown lifecycle for the ingested event and the
// transition rule for every active countdown in the scope.
func (s *StreamStore) applySLA(st *streamState, ev model.Event, now time.Time) {
	opensCountdown := (ev.Category == model.CategoryTaskLifecycle && ev.Type == "created") ||
		(ev.Category == model.CategoryAlertLifecycle && ev.Type == "detected")
	closesCountdown := ev.Type == "resolved" || ev.Type == "dismissed"

	switch {
	case opensCountdown:
		// Duplicate create/detect is a no-op: the timer never resets.
		if _, exists := st.countdowns[ev.EntityID]; !exists {
			threshold, ok := s.slaHours[ev.Severity]
			if !ok {
				threshold = s.slaHours[model.SeverityMedium]
			}
			st.countdowns[ev.EntityID] = &model.SLACountdown{
				EntityID:       ev.EntityID,
				EntityType:     ev.EntityType,
				Severity:       ev.Severity,
				StartTime:      ev.Timestamp,
				ThresholdHours: threshold,
				RemainingHours: threshold,
				Status:         model.SLAStatusOK,
			}
		}
	case closesCountdown:
		// Hard delete from the active set, not a status change.
		delete(st.countdowns, ev.EntityID)
	}

	for _, c := range st.countdowns {
		c.Evaluate(now)
	}
}

// applyWorkload updates per-operator open-task counters. Only
// task-lifecycle events move workload; counts floor at zero.
func applyWorkload(st *streamState, ev model.Event) {
	if ev.Category != model.CategoryTaskLifecycle || ev.OperatorID == "" {
		return
	}

	switch ev.Type {
	case "assigned", "in-progress":
		w, ok := st.workload[ev.OperatorID]
		if !ok {
			w = &model.OperatorWorkload{OperatorID: ev.OperatorID, OperatorName: ev.OperatorName}
			st.workload[ev.OperatorID] = w
		}
		if ev.OperatorName != "" {
			w.OperatorName = ev.OperatorName
		}
		w.ActiveTasks++
		bumpBucket(w, ev.Severity, 1)
	case "resolved", "dismissed":
		w, ok := st.workload[ev.OperatorID]
		if !ok {
			return
		}
		if w.ActiveTasks > 0 {
			w.ActiveTasks--
		}
		bumpBucket(w, ev.Severity, -1)
	}
}

func bumpBucket(w *model.OperatorWorkload, sev model.Severity, delta int) {
	bucket := func(v *int) {
		*v += delta
		if *v < 0 {
			*v = 0
		}
	}
	switch sev {
	case model.SeverityCritical:
		bucket(&w.Critical)
	case model.SeverityHigh:
		bucket(&w.High)
	case model.SeverityMedium:
		bucket(&w.Medium)
	default:
		bucket(&w.Low)
	}
}

// countSince counts buffered events with timestamps at or after cutoff.
func countSince(events []model.Event, cutoff time.Time) int {
	n := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Timestamp.Before(cutoff) {
			continue
		}
		n++
	}
	return n
}

func copyRolling(r model.RollingMetrics) model.RollingMetrics {
	out := model.RollingMetrics{
		TotalEventsReceived: r.TotalEventsReceived,
		EventsPerMinute:     r.EventsPerMinute,
		EventsByCategory:    make(map[model.Category]int64, len(r.EventsByCategory)),
		EventsBySeverity:    make(map[model.Severity]int64, len(r.EventsBySeverity)),
	}
	for k, v := range r.EventsByCategory {
		out.EventsByCategory[k] = v
	}
	for k, v := range r.EventsBySeverity {
		out.EventsBySeverity[k] = v
	}
	return out
}
