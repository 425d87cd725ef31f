package biz

import (
	"context"
	"time"

	"RouteGuard/internal/model"
)

// AuditLogger records the engine's decision trail. Implementations must be
// non-blocking; a dropped audit entry must never fail the operation that
// produced it.
type AuditLogger interface {
	// LogHealthTransition logs a connector health status change
	LogHealthTransition(ctx context.Context, key model.ConnectorKey, from, to string)

	// LogCircuitTripped logs a breaker opening
	LogCircuitTripped(ctx context.Context, key model.ConnectorKey, failureCount int, openedAt time.Time)

	// LogCircuitRecovered logs a half-open probe closing the breaker
	LogCircuitRecovered(ctx context.Context, key model.ConnectorKey, openFor time.Duration, probeCount int)

	// LogRouteSelected logs a persisted routing decision
	LogRouteSelected(ctx context.Context, decisionID int64, connectorID string, score float64, candidates int)

	// LogRouteOverridden logs a manual override of a routing decision
	LogRouteOverridden(ctx context.Context, decisionID int64, connectorID, actor string)

	// LogAlertRaised logs a new open SLA alert
	LogAlertRaised(ctx context.Context, alertID, policyID int64, metric string, observed, threshold float64)

	// LogRemediation logs a remediation attempt outcome (executed, skipped, failed)
	LogRemediation(ctx context.Context, policyID, alertID int64, actionType, result string)

	// LogAnomaly logs a detected connector anomaly
	LogAnomaly(ctx context.Context, key model.ConnectorKey, anomalyType string, score float64, recommendation string)

	// LogFailover logs a failover action lifecycle step
	LogFailover(ctx context.Context, actionID int64, actionRef, status, details string)
}
