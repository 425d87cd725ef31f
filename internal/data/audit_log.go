package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditLog is the GORM model for the engine_audit_logs table.
type AuditLog struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Subject   string    `gorm:"column:subject;type:varchar(128);not null;index"`
	EventType string    `gorm:"column:event_type;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "engine_audit_logs"
}

// AuditLoggerImpl writes audit entries asynchronously through a buffered
// channel. A full buffer drops the entry rather than blocking the routing
// hot path.
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper
}

// NewAuditLogger creates a new audit logger with an async writer goroutine.
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		db:      db,
		logChan: make(chan *AuditLog, 1000),
		logger:  log.NewHelper(logger),
	}

	go al.start()

	return al
}

var _ biz.AuditLogger = (*AuditLoggerImpl)(nil)

// start drains the channel into MySQL.
func (a *AuditLoggerImpl) start() {
	for event := range a.logChan {
		ctx := context.Background()
		if err := a.db.WithContext(ctx).Create(event).Error; err != nil {
			a.logger.Errorw("failed to write audit log",
				"subject", event.Subject,
				"event_type", event.EventType,
				"error", err)
		} else {
			a.logger.Debugw("audit log written",
				"subject", event.Subject,
				"event_type", event.EventType)
		}
	}
}

// enqueue marshals details and queues the entry without blocking.
func (a *AuditLoggerImpl) enqueue(subject, eventType string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("failed to marshal audit log details", "error", err)
		return
	}

	event := &AuditLog{
		Subject:   subject,
		EventType: eventType,
		Details:   string(detailsJSON),
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("audit log channel full, dropping event",
			"subject", subject,
			"event_type", eventType)
	}
}

// LogHealthTransition logs a connector health status change.
func (a *AuditLoggerImpl) LogHealthTransition(ctx context.Context, key model.ConnectorKey, from, to string) {
	a.enqueue(key.String(), model.AuditEventHealthTransition, map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// LogCircuitTripped logs a breaker opening.
func (a *AuditLoggerImpl) LogCircuitTripped(ctx context.Context, key model.ConnectorKey, failureCount int, openedAt time.Time) {
	a.enqueue(key.String(), model.AuditEventCircuitTripped, map[string]interface{}{
		"failure_count": failureCount,
		"opened_at":     openedAt.Format(time.RFC3339),
	})
}

// LogCircuitRecovered logs a half-open probe closing the breaker.
func (a *AuditLoggerImpl) LogCircuitRecovered(ctx context.Context, key model.ConnectorKey, openFor time.Duration, probeCount int) {
	a.enqueue(key.String(), model.AuditEventCircuitRecovered, map[string]interface{}{
		"open_for_seconds": openFor.Seconds(),
		"probe_count":      probeCount,
	})
}

// LogRouteSelected logs a persisted routing decision.
func (a *AuditLoggerImpl) LogRouteSelected(ctx context.Context, decisionID int64, connectorID string, score float64, candidates int) {
	a.enqueue(subjectID("decision", decisionID), model.AuditEventRouteSelected, map[string]interface{}{
		"connector_id": connectorID,
		"score":        score,
		"candidates":   candidates,
	})
}

// LogRouteOverridden logs a manual override of a routing decision.
func (a *AuditLoggerImpl) LogRouteOverridden(ctx context.Context, decisionID int64, connectorID, actor string) {
	a.enqueue(subjectID("decision", decisionID), model.AuditEventRouteOverridden, map[string]interface{}{
		"connector_id": connectorID,
		"actor":        actor,
	})
}

// LogAlertRaised logs a new open SLA alert.
func (a *AuditLoggerImpl) LogAlertRaised(ctx context.Context, alertID, policyID int64, metric string, observed, threshold float64) {
	a.enqueue(subjectID("alert", alertID), model.AuditEventAlertRaised, map[string]interface{}{
		"policy_id": policyID,
		"metric":    metric,
		"observed":  observed,
		"threshold": threshold,
	})
}

// LogRemediation logs a remediation attempt outcome.
func (a *AuditLoggerImpl) LogRemediation(ctx context.Context, policyID, alertID int64, actionType, result string) {
	eventType := model.AuditEventRemediationRan
	if result != "executed" {
		eventType = model.AuditEventRemediationSkipped
	}
	a.enqueue(subjectID("alert", alertID), eventType, map[string]interface{}{
		"policy_id":   policyID,
		"action_type": actionType,
		"result":      result,
	})
}

// LogAnomaly logs a detected connector anomaly.
func (a *AuditLoggerImpl) LogAnomaly(ctx context.Context, key model.ConnectorKey, anomalyType string, score float64, recommendation string) {
	a.enqueue(key.String(), model.AuditEventAnomalyDetected, map[string]interface{}{
		"anomaly_type":   anomalyType,
		"score":          score,
		"recommendation": recommendation,
	})
}

// LogFailover logs a failover action lifecycle step.
func (a *AuditLoggerImpl) LogFailover(ctx context.Context, actionID int64, actionRef, status, details string) {
	eventType := model.AuditEventFailoverRequested
	switch status {
	case biz.FailoverExecuted:
		eventType = model.AuditEventFailoverExecuted
	case biz.FailoverFailed:
		eventType = model.AuditEventFailoverFailed
	}
	a.enqueue(subjectID("failover", actionID), eventType, map[string]interface{}{
		"action_ref": actionRef,
		"status":     status,
		"details":    details,
	})
}

func subjectID(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}
