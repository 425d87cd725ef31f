package model

import (
	"fmt"
	"time"
)

// Health status values for a connector snapshot.
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
	HealthStatusDown     = "down"
)

// ConnectorKey identifies one connector deployment. Health snapshots and
// circuit breakers are both keyed by this triple.
type ConnectorKey struct {
	ConnectorID string
	Region      string
	Currency    string
}

// String renders the key in the form used for Redis keys and log fields.
func (k ConnectorKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ConnectorID, k.Region, k.Currency)
}

// HealthMetrics is the payload of one probe or webhook report.
type HealthMetrics struct {
	Status       string  `json:"status,omitempty"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	ErrorCount   int     `json:"error_count"`
}

// HealthSnapshot is the current health record for a connector key.
type HealthSnapshot struct {
	Key           ConnectorKey
	Status        string
	SuccessRate   float64
	AvgLatencyMs  float64
	ErrorCount    int
	LastCheckedAt time.Time
}
