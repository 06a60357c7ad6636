package model

import (
	"fmt"
	"time"
)

// Severity levels for events and SLA countdowns.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Category identifies the upstream subsystem an event originated from.
type Category string

const (
	CategoryTaskLifecycle  Category = "task-lifecycle"
	CategoryAlertLifecycle Category = "alert-lifecycle"
	CategoryAuditFinding   Category = "audit-finding"
	CategoryDriftDetection Category = "drift-detection"
	CategoryGovernance     Category = "governance"
	CategoryDocumentation  Category = "documentation"
	CategorySimulation     Category = "simulation"
	CategoryAnalytics      Category = "analytics"
)

// Categories lists every upstream source category.
var Categories = []Category{
	CategoryTaskLifecycle,
	CategoryAlertLifecycle,
	CategoryAuditFinding,
	CategoryDriftDetection,
	CategoryGovernance,
	CategoryDocumentation,
	CategorySimulation,
	CategoryAnalytics,
}

// Severities lists every severity level, most severe first.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// ValidCategory reports whether c is one of the eight source categories.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// Scope identifies the tenant partition an event or query belongs to.
// TenantID is required; facility and federation are optional refinements.
type Scope struct {
	TenantID     string `json:"tenant_id"`
	FacilityID   string `json:"facility_id,omitempty"`
	FederationID string `json:"federation_id,omitempty"`
}

// scopeNone is the sentinel for an absent optional scope field.
const scopeNone = "none"

// Key returns the canonical map key for this scope. Absent optional
// fields collapse to the "none" sentinel so that tenant-only and
// facility-qualified streams stay distinct.
func (s Scope) Key() string {
	facility := s.FacilityID
	if facility == "" {
		facility = scopeNone
	}
	federation := s.FederationID
	if federation == "" {
		federation = scopeNone
	}
	return fmt.Sprintf("%s|%s|%s", s.TenantID, facility, federation)
}

// Event is an immutable fact emitted by an upstream subsystem. Events are
// appended to a scope's buffer and eventually evicted, never edited.
type Event struct {
	ID           string                 `json:"id"`
	Category     Category               `json:"category"`
	Type         string                 `json:"type"`
	Timestamp    time.Time              `json:"timestamp"`
	Scope        Scope                  `json:"scope"`
	Severity     Severity               `json:"severity"`
	EntityID     string                 `json:"entity_id"`
	EntityType   string                 `json:"entity_type"`
	OperatorID   string                 `json:"operator_id,omitempty"`
	OperatorName string                 `json:"operator_name,omitempty"`
	Metadata     map[string]interface{} `json:"metadata"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Validate checks the minimal wire contract for an ingested event.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !ValidCategory(e.Category) {
		return fmt.Errorf("unknown event category %q", e.Category)
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Scope.TenantID == "" {
		return fmt.Errorf("scope tenant_id is required")
	}
	if !ValidSeverity(e.Severity) {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if _, ok := e.Metadata["source_system"]; !ok {
		return fmt.Errorf("metadata.source_system is required")
	}
	return nil
}
