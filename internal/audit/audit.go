// Package audit keeps an append-only, size-bounded record of everything
// the monitor does: ingested events, computed metric batches, policy
// decisions, and errors. Entries are write-once; when the buffer is full
// the oldest entry is overwritten.
package audit

import (
	"bytes"
	"container/ring"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindEventIngested  Kind = "event-ingested"
	KindMetricComputed Kind = "metric-computed"
	KindPolicyDecision Kind = "policy-decision"
	KindError          Kind = "error"
)

// Entry is one write-once audit record.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Kind      Kind                   `json:"kind"`
	Actor     string                 `json:"actor,omitempty"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Filter narrows queries and exports. Zero values match everything.
type Filter struct {
	Kind     Kind
	TenantID string
	Actor    string
	From     time.Time
	To       time.Time
	Limit    int
}

// Statistics summarizes log contents over a time range.
type Statistics struct {
	TotalEntries int          `json:"total_entries"`
	ByKind       map[Kind]int `json:"by_kind"`
	ErrorRate    float64      `json:"error_rate_pct"`
	Oldest       time.Time    `json:"oldest,omitempty"`
	Newest       time.Time    `json:"newest,omitempty"`
}

// Log is a thread-safe bounded audit log backed by a ring buffer.
type Log struct {
	mu       sync.RWMutex
	entries  *ring.Ring
	capacity int
	now      func() time.Time
}

// NewLog creates a log that retains at most capacity entries.
func NewLog(capacity int) *Log {
	return &Log{
		entries:  ring.New(capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends one entry, assigning its ID and timestamp. The stored
// entry is returned.
func (l *Log) Record(kind Kind, actor, tenantID string, detail map[string]interface{}) Entry {
	entry := Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Actor:     actor,
		TenantID:  tenantID,
		Detail:    detail,
	}

	l.mu.Lock()
	l.entries.Value = entry
	l.entries = l.entries.Next()
	l.mu.Unlock()

	return entry
}

// Query returns entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	l.entries.Do(func(value interface{}) {
		entry, ok := value.(Entry)
		if !ok || !matches(entry, f) {
			return
		}
		out = append(out, entry)
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	l.entries.Do(func(value interface{}) {
		if _, ok := value.(Entry); ok {
			n++
		}
	})
	return n
}

// ExportJSON serializes matching entries as a JSON array.
func (l *Log) ExportJSON(f Filter) ([]byte, error) {
	entries := l.Query(f)
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entries: %w", err)
	}
	return data, nil
}

// ExportCSV serializes matching entries as CSV with a header row. Detail
// maps are flattened to a JSON column.
func (l *Log) ExportCSV(f Filter) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "timestamp", "kind", "actor", "tenant_id", "detail"}); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, entry := range l.Query(f) {
		detail := ""
		if entry.Detail != nil {
			data, err := json.Marshal(entry.Detail)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal entry detail: %w", err)
			}
			detail = string(data)
		}
		record := []string{
			entry.ID,
			entry.Timestamp.Format(time.RFC3339Nano),
			string(entry.Kind),
			entry.Actor,
			entry.TenantID,
			detail,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportGzip compresses an export produced by one of the Export functions.
func ExportGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress export: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compressed export: %w", err)
	}
	return buf.Bytes(), nil
}

// GetStatistics summarizes entries within the time range; zero times mean
// unbounded.
func (l *Log) GetStatistics(from, to time.Time) Statistics {
	stats := Statistics{ByKind: make(map[Kind]int)}

	for _, entry := range l.Query(Filter{From: from, To: to}) {
		stats.TotalEntries++
		stats.ByKind[entry.Kind]++
		if stats.Oldest.IsZero() || entry.Timestamp.Before(stats.Oldest) {
			stats.Oldest = entry.Timestamp
		}
		if entry.Timestamp.After(stats.Newest) {
			stats.Newest = entry.Timestamp
		}
	}

	if stats.TotalEntries > 0 {
		stats.ErrorRate = float64(stats.ByKind[KindError]) / float64(stats.TotalEntries) * 100
	}
	return stats
}

// ClearOldEntries drops entries older than retentionDays and reports how
// many were removed.
func (l *Log) ClearOldEntries(retentionDays int) int {
	cutoff := l.now().UTC().AddDate(0, 0, -retentionDays)

	l.mu.Lock()
	defer l.mu.Unlock()

	var kept []Entry
	removed := 0
	l.entries.Do(func(value interface{}) {
		entry, ok := value.(Entry)
		if !ok {
			return
		}
		if entry.Timestamp.Before(cutoff) {
			removed++
			return
		}
		kept = append(kept, entry)
	})

	if removed == 0 {
		return 0
	}

	l.entries = ring.New(l.capacity)
	for _, entry := range kept {
		l.entries.Value = entry
		l.entries = l.entries.Next()
	}
	return removed
}

func matches(entry Entry, f Filter) bool {
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	if f.TenantID != "" && entry.TenantID != f.TenantID {
		return false
	}
	if f.Actor != "" && entry.Actor != f.Actor {
		return false
	}
	if !f.From.IsZero() && entry.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && entry.Timestamp.After(f.To) {
		return false
	}
	return true
}

// ParseRetention converts a query-string day count into a validated value.
func ParseRetention(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if days, err := strconv.Atoi(raw); err == nil && days > 0 {
		return days
	}
	return fallback
}
