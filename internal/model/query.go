package model

import "time"

// RealTimeQuery asks for derived metrics over one scope's stream.
type RealTimeQuery struct {
	Scope            Scope            `json:"scope"`
	Categories       []MetricCategory `json:"categories,omitempty"`
	OperatorIDs      []string         `json:"operator_ids,omitempty"`
	SeverityFilter   []Severity       `json:"severity_filter,omitempty"`
	IncludeHistory   bool             `json:"include_history,omitempty"`
	IncludeBreakdown bool             `json:"include_breakdown,omitempty"`
	IncludeTrend     bool             `json:"include_trend,omitempty"`
	RequestedBy      string           `json:"requested_by"`
}

// EffectiveCategories returns the requested metric categories, defaulting
// to all of them when the query names none.
func (q *RealTimeQuery) EffectiveCategories() []MetricCategory {
	if len(q.Categories) == 0 {
		out := make([]MetricCategory, len(MetricCategories))
		copy(out, MetricCategories)
		return out
	}
	return q.Categories
}

// PolicyContext carries the requester's identity and grants.
type PolicyContext struct {
	UserID          string   `json:"user_id"`
	UserTenantID    string   `json:"user_tenant_id"`
	OperatorID      string   `json:"operator_id,omitempty"`
	FederationIDs   []string `json:"federation_ids,omitempty"`
	FederationAdmin bool     `json:"federation_admin,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// HasPermission reports whether the context carries the named grant.
func (c *PolicyContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// MemberOfFederation reports whether the context belongs to the federation.
func (c *PolicyContext) MemberOfFederation(id string) bool {
	for _, f := range c.FederationIDs {
		if f == id {
			return true
		}
	}
	return false
}

// PolicyDecision is the write-once outcome of a policy evaluation.
type PolicyDecision struct {
	ID           string    `json:"decision_id"`
	Allowed      bool      `json:"allowed"`
	Violations   []string  `json:"violations,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
	Restrictions []string  `json:"restrictions,omitempty"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// ResultSummary is the human-readable digest attached to query results.
type ResultSummary struct {
	ActiveAlerts       int     `json:"active_alerts"`
	ActiveTasks        int     `json:"active_tasks"`
	OperatorsOnline    int     `json:"operators_online"`
	AvgResponseMinutes float64 `json:"avg_response_minutes"`
	SLAAdherencePct    float64 `json:"sla_adherence_pct"`
}

// Error codes surfaced in failed RealTimeResults.
const (
	ErrCodePolicyDenied   = "POLICY_DENIED"
	ErrCodeNoStreamState  = "NO_STREAM_STATE"
	ErrCodeExecutionError = "EXECUTION_ERROR"
	ErrCodeInvalidQuery   = "INVALID_QUERY"
)

// RealTimeResult is the single, always-well-formed answer to a query.
// Callers branch on Success; failures carry a machine-readable code and an
// empty but valid body.
type RealTimeResult struct {
	QueryID    string                `json:"query_id"`
	Success    bool                  `json:"success"`
	Error      string                `json:"error,omitempty"`
	ErrorCode  string                `json:"error_code,omitempty"`
	Metrics    []Metric              `json:"metrics"`
	Stream     *StreamSnapshot       `json:"stream,omitempty"`
	References map[Category][]string `json:"references"`
	Summary    ResultSummary         `json:"summary"`
	Policy     PolicyDecision        `json:"policy"`
	StartedAt  time.Time             `json:"started_at"`
	DurationMs float64               `json:"duration_ms"`
}
