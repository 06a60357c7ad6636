package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opspulse/streammon/internal/model"
)

func TestParseEvent(t *testing.T) {
	data := []byte(`{
		"id": "ev-1",
		"category": "task-lifecycle",
		"type": "created",
		"timestamp": "2025-06-01T12:00:00Z",
		"scope": {"tenant_id": "acme", "facility_id": "plant-7"},
		"severity": "critical",
		"entity_id": "task-42",
		"entity_type": "remediation-task",
		"operator_id": "op-9",
		"metadata": {"source_system": "tasks"},
		"payload": {"title": "patch kernel"}
	}`)

	event, err := ParseEvent(data)
	require.NoError(t, err)

	assert.Equal(t, "ev-1", event.ID)
	assert.Equal(t, model.CategoryTaskLifecycle, event.Category)
	assert.Equal(t, "created", event.Type)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), event.Timestamp.UTC())
	assert.Equal(t, "acme", event.Scope.TenantID)
	assert.Equal(t, "plant-7", event.Scope.FacilityID)
	assert.Equal(t, model.SeverityCritical, event.Severity)
	assert.Equal(t, "task-42", event.EntityID)
	assert.Equal(t, "op-9", event.OperatorID)
	assert.Equal(t, "tasks", event.Metadata["source_system"])
	assert.Equal(t, "patch kernel", event.Payload["title"])
}

func TestParseEventTimestampShapes(t *testing.T) {
	tests := []struct {
		name      string
		timestamp string
		want      time.Time
		wantNow   bool
	}{
		{
			name:      "rfc3339 string",
			timestamp: `"2025-06-01T12:00:00Z"`,
			want:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:      "epoch milliseconds",
			timestamp: `1748779200000`,
			want:      time.UnixMilli(1748779200000),
		},
		{
			name:      "unparseable string falls back to now",
			timestamp: `"yesterday"`,
			wantNow:   true,
		},
		{
			name:    "missing timestamp falls back to now",
			wantNow: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{
				"id": "ev-1",
				"category": "alert-lifecycle",
				"type": "detected",
				"scope": {"tenant_id": "acme"},
				"severity": "high",
				"entity_id": "alert-1",
				"metadata": {"source_system": "alerts"}`
			if tt.timestamp != "" {
				body += `, "timestamp": ` + tt.timestamp
			}
			body += `}`

			before := time.Now()
			event, err := ParseEvent([]byte(body))
			require.NoError(t, err)

			if tt.wantNow {
				assert.WithinDuration(t, before, event.Timestamp, 5*time.Second)
			} else {
				assert.True(t, event.Timestamp.Equal(tt.want), "got %v, want %v", event.Timestamp, tt.want)
			}
		})
	}
}

func TestParseEventInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "malformed json", data: `{not json`},
		{name: "missing id", data: `{"category":"task-lifecycle","type":"created","scope":{"tenant_id":"a"},"severity":"low","entity_id":"t1","metadata":{"source_system":"tasks"}}`},
		{name: "unknown category", data: `{"id":"ev-1","category":"weather","type":"created","scope":{"tenant_id":"a"},"severity":"low","entity_id":"t1","metadata":{"source_system":"tasks"}}`},
		{name: "missing tenant", data: `{"id":"ev-1","category":"task-lifecycle","type":"created","scope":{},"severity":"low","entity_id":"t1","metadata":{"source_system":"tasks"}}`},
		{name: "missing source system", data: `{"id":"ev-1","category":"task-lifecycle","type":"created","scope":{"tenant_id":"a"},"severity":"low","entity_id":"t1","metadata":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
