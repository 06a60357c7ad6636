// Package policy gates every query and every event or metric delivered to
// a caller. The evaluator is stateless; decisions are computed fresh on
// each call and never cached across deliveries.
package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opspulse/streammon/internal/model"
)

// Permission grants recognized by the engine.
const (
	PermCrossTenant      = "cross-tenant-access"
	PermViewAllOperators = "view-all-operators"
	PermCrossEnginePerf  = "view-cross-engine-performance"
	PermWorkloadDelta    = "view-workload-delta"
	PermTrendSignal      = "view-trend-signal"
	PermBulkQuery        = "bulk-query"
)

// FederationPermission returns the per-federation grant name for id.
func FederationPermission(id string) string {
	return "federation:" + id
}

// maxOperatorIDs is the operator-ID count above which a query needs the
// bulk-query grant.
const maxOperatorIDs = 10

// categoryPermissions maps gated metric categories to the grant each one
// requires. Absence of the grant is a violation, not a silent filter.
var categoryPermissions = map[model.MetricCategory]string{
	model.MetricCrossEnginePerf: PermCrossEnginePerf,
	model.MetricWorkloadDelta:   PermWorkloadDelta,
	model.MetricTrendSignal:     PermTrendSignal,
}

// sensitiveMetrics additionally gate per-delivery metric visibility.
var sensitiveMetrics = map[model.MetricCategory]string{
	model.MetricWorkloadDelta: PermWorkloadDelta,
	model.MetricTrendSignal:   PermTrendSignal,
}

// Engine evaluates access policy. It holds no mutable state.
type Engine struct{}

// NewEngine creates a policy engine.
func NewEngine() *Engine {
	return &Engine{}
}

// EvaluateQuery applies the query rules in order; any violation denies.
func (e *Engine) EvaluateQuery(q *model.RealTimeQuery, ctx *model.PolicyContext) model.PolicyDecision {
	d := newDecision()

	// 1. Tenant isolation.
	if q.Scope.TenantID != ctx.UserTenantID && !ctx.HasPermission(PermCrossTenant) {
		d.Violations = append(d.Violations,
			fmt.Sprintf("tenant isolation: caller tenant %q may not query tenant %q", ctx.UserTenantID, q.Scope.TenantID))
	}

	// 2. Federation access.
	if v := federationViolation(q.Scope, ctx); v != "" {
		d.Violations = append(d.Violations, v)
	}

	// 3. Operator-scoped queries.
	if !ctx.HasPermission(PermViewAllOperators) {
		for _, id := range q.OperatorIDs {
			if id != ctx.OperatorID {
				d.Violations = append(d.Violations,
					fmt.Sprintf("operator scope: caller may not query operator %q without %s", id, PermViewAllOperators))
				break
			}
		}
	}

	// 4. Category gating.
	for _, cat := range q.EffectiveCategories() {
		perm, gated := categoryPermissions[cat]
		if gated && !ctx.HasPermission(perm) {
			d.Violations = append(d.Violations,
				fmt.Sprintf("category %s requires permission %s", cat, perm))
		}
	}

	// 5. Bulk-query limit.
	if len(q.OperatorIDs) > maxOperatorIDs && !ctx.HasPermission(PermBulkQuery) {
		d.Violations = append(d.Violations,
			fmt.Sprintf("bulk query: %d operator ids exceeds limit of %d without %s", len(q.OperatorIDs), maxOperatorIDs, PermBulkQuery))
	}

	if len(q.Categories) == 0 {
		d.Restrictions = append(d.Restrictions, "no categories requested; defaulting to all")
	}

	d.Allowed = len(d.Violations) == 0
	return d
}

// EvaluateEventVisibility decides whether a subscriber or caller may see
// an event. Evaluated per subscriber, per delivery.
func (e *Engine) EvaluateEventVisibility(ev *model.Event, ctx *model.PolicyContext) model.PolicyDecision {
	d := newDecision()

	if ev.Scope.TenantID != ctx.UserTenantID && !ctx.HasPermission(PermCrossTenant) {
		d.Violations = append(d.Violations,
			fmt.Sprintf("tenant isolation: event belongs to tenant %q", ev.Scope.TenantID))
	}
	if v := federationViolation(ev.Scope, ctx); v != "" {
		d.Violations = append(d.Violations, v)
	}

	d.Allowed = len(d.Violations) == 0
	return d
}

// EvaluateMetricVisibility decides whether a computed metric may be
// returned to the caller, applying tenant and federation checks plus the
// sensitive-metric gate.
func (e *Engine) EvaluateMetricVisibility(m *model.Metric, ctx *model.PolicyContext) model.PolicyDecision {
	d := newDecision()

	if m.Scope.TenantID != ctx.UserTenantID && !ctx.HasPermission(PermCrossTenant) {
		d.Violations = append(d.Violations,
			fmt.Sprintf("tenant isolation: metric belongs to tenant %q", m.Scope.TenantID))
	}
	if v := federationViolation(m.Scope, ctx); v != "" {
		d.Violations = append(d.Violations, v)
	}
	if perm, sensitive := sensitiveMetrics[m.Category]; sensitive && !ctx.HasPermission(perm) {
		d.Violations = append(d.Violations,
			fmt.Sprintf("sensitive metric %s requires permission %s", m.Category, perm))
	}

	d.Allowed = len(d.Violations) == 0
	return d
}

// federationViolation applies the federation access rule to a scope.
func federationViolation(scope model.Scope, ctx *model.PolicyContext) string {
	if scope.FederationID == "" {
		return ""
	}
	if ctx.FederationAdmin || ctx.MemberOfFederation(scope.FederationID) ||
		ctx.HasPermission(FederationPermission(scope.FederationID)) {
		return ""
	}
	return fmt.Sprintf("federation access: caller has no access to federation %q", scope.FederationID)
}

func newDecision() model.PolicyDecision {
	return model.PolicyDecision{
		ID:          uuid.NewString(),
		EvaluatedAt: time.Now().UTC(),
	}
}
