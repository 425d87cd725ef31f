package model

import "time"

// CircuitTrippedEvent is published when a breaker transitions to open.
type CircuitTrippedEvent struct {
	Key          ConnectorKey
	FailureCount int
	OpenedAt     time.Time
}

// CircuitRecoveredEvent is published when a half-open probe closes a breaker.
type CircuitRecoveredEvent struct {
	Key        ConnectorKey
	OpenFor    time.Duration
	ProbeCount int
}

// AlertRaisedEvent is published when an SLA evaluation creates a new open alert.
type AlertRaisedEvent struct {
	AlertID       int64
	PolicyID      int64
	Metric        string
	ObservedValue float64
	Threshold     float64
	Operator      string
	Severity      string
}

// AnomalyEvent records one detected connector anomaly and the detector's
// recommendation.
type AnomalyEvent struct {
	Key            ConnectorKey
	AnomalyType    string
	AnomalyScore   float64
	Alternative    string
	Recommendation string
	Reason         string
}

// FailoverEvent is published around failover execution.
type FailoverEvent struct {
	ActionID      int64
	ActionRef     string
	ConnectorFrom string
	ConnectorTo   string
	Region        string
	Currency      string
	Status        string
}
