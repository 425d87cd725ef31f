package model

// Audit event type constants
const (
	AuditEventHealthTransition   = "HEALTH_STATUS_TRANSITION"
	AuditEventCircuitTripped     = "CIRCUIT_TRIPPED"
	AuditEventCircuitRecovered   = "CIRCUIT_RECOVERED"
	AuditEventRouteSelected      = "ROUTE_SELECTED"
	AuditEventRouteOverridden    = "ROUTE_OVERRIDDEN"
	AuditEventAlertRaised        = "SLA_ALERT_RAISED"
	AuditEventRemediationRan     = "REMEDIATION_EXECUTED"
	AuditEventRemediationSkipped = "REMEDIATION_SKIPPED"
	AuditEventAnomalyDetected    = "ANOMALY_DETECTED"
	AuditEventFailoverRequested  = "FAILOVER_REQUESTED"
	AuditEventFailoverExecuted   = "FAILOVER_EXECUTED"
	AuditEventFailoverFailed     = "FAILOVER_FAILED"
)
