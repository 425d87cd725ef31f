package data

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/biz"
	pkgerrors "RouteGuard/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// slaPolicyRow is the GORM model for one SLA threshold rule.
type slaPolicyRow struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	ConnectorScope string  `gorm:"column:connector_scope;size:64;index"`
	Rail           string  `gorm:"column:rail;size:32"`
	Country        string  `gorm:"column:country;size:8"`
	Currency       string  `gorm:"column:currency;size:8"`
	Metric         string  `gorm:"column:metric;size:64"`
	Threshold      float64 `gorm:"column:threshold"`
	Operator       string  `gorm:"column:operator;size:4"`
	Severity       string  `gorm:"column:severity;size:16"`
	Enabled        bool    `gorm:"column:enabled;index"`
}

func (slaPolicyRow) TableName() string {
	return "sla_policies"
}

// slaAlertRow is the GORM model for one policy breach.
//
// OpenMarker carries the policy id while the alert is open and NULL once it
// leaves the open state; the unique index on it turns "at most one open alert
// per policy" into a database constraint instead of a read-then-write race.
type slaAlertRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	PolicyID       int64     `gorm:"column:policy_id;index"`
	OpenMarker     *int64    `gorm:"column:open_marker;uniqueIndex"`
	ObservedValue  float64   `gorm:"column:observed_value"`
	Threshold      float64   `gorm:"column:threshold"`
	Severity       string    `gorm:"column:severity;size:16"`
	Status         string    `gorm:"column:status;size:16;index"`
	AcknowledgedBy string    `gorm:"column:acknowledged_by;size:64"`
	ResolvedBy     string    `gorm:"column:resolved_by;size:64"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (slaAlertRow) TableName() string {
	return "sla_alerts"
}

// SLARepo persists SLA policies and alerts in MySQL.
type SLARepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewSLARepo creates a new SLA repository.
func NewSLARepo(db *gorm.DB, logger log.Logger) *SLARepo {
	return &SLARepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

var _ biz.SLARepo = (*SLARepo)(nil)

// ListEnabledPolicies returns all enabled policies.
func (r *SLARepo) ListEnabledPolicies(ctx context.Context) ([]*biz.SLAPolicy, error) {
	var rows []slaPolicyRow
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled policies: %w", err)
	}

	policies := make([]*biz.SLAPolicy, 0, len(rows))
	for i := range rows {
		policies = append(policies, policyRowToBiz(&rows[i]))
	}
	return policies, nil
}

// GetPolicy returns a policy by id, or (nil, nil) when absent.
func (r *SLARepo) GetPolicy(ctx context.Context, id int64) (*biz.SLAPolicy, error) {
	var row slaPolicyRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return policyRowToBiz(&row), nil
}

// CreatePolicy persists a new policy and sets its ID.
func (r *SLARepo) CreatePolicy(ctx context.Context, p *biz.SLAPolicy) error {
	row := &slaPolicyRow{
		ConnectorScope: p.ConnectorScope,
		Rail:           p.Rail,
		Country:        p.Country,
		Currency:       p.Currency,
		Metric:         p.Metric,
		Threshold:      p.Threshold,
		Operator:       p.Operator,
		Severity:       p.Severity,
		Enabled:        p.Enabled,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	p.ID = row.ID
	return nil
}

// SetPolicyEnabled flips the enabled flag. False when absent.
func (r *SLARepo) SetPolicyEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&slaPolicyRow{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update policy enabled flag: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CreateOpenAlert inserts an open alert unless one is already open for the
// policy. The unique open_marker index rejects the second insert; that
// duplicate-key error is the dedupe signal, not a failure.
func (r *SLARepo) CreateOpenAlert(ctx context.Context, alert *biz.SLAAlert) (bool, error) {
	marker := alert.PolicyID
	row := &slaAlertRow{
		PolicyID:      alert.PolicyID,
		OpenMarker:    &marker,
		ObservedValue: alert.ObservedValue,
		Threshold:     alert.Threshold,
		Severity:      alert.Severity,
		Status:        biz.AlertOpen,
	}

	err := r.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			r.logger.Debugw("open alert already exists, deduplicated",
				"policy_id", alert.PolicyID)
			return false, nil
		}
		return false, fmt.Errorf("failed to create alert: %w", err)
	}

	alert.ID = row.ID
	alert.Status = biz.AlertOpen
	alert.CreatedAt = row.CreatedAt
	return true, nil
}

// AcknowledgeAlert transitions open -> acknowledged and clears the open
// marker. Only an open alert suppresses new ones, so the next breach after
// an acknowledgement raises a fresh alert.
func (r *SLARepo) AcknowledgeAlert(ctx context.Context, id int64, actor string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&slaAlertRow{}).
		Where("id = ? AND status = ?", id, biz.AlertOpen).
		Updates(map[string]interface{}{
			"status":          biz.AlertAcknowledged,
			"acknowledged_by": actor,
			"open_marker":     nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ResolveAlert transitions open/acknowledged -> resolved. The marker is
// cleared here too for alerts resolved straight from open.
func (r *SLARepo) ResolveAlert(ctx context.Context, id int64, actor string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&slaAlertRow{}).
		Where("id = ? AND status IN ?", id, []string{biz.AlertOpen, biz.AlertAcknowledged}).
		Updates(map[string]interface{}{
			"status":      biz.AlertResolved,
			"resolved_by": actor,
			"open_marker": nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func policyRowToBiz(row *slaPolicyRow) *biz.SLAPolicy {
	return &biz.SLAPolicy{
		ID:             row.ID,
		ConnectorScope: row.ConnectorScope,
		Rail:           row.Rail,
		Country:        row.Country,
		Currency:       row.Currency,
		Metric:         row.Metric,
		Threshold:      row.Threshold,
		Operator:       row.Operator,
		Severity:       row.Severity,
		Enabled:        row.Enabled,
	}
}
