package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RouteGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// remediationActionRow is the GORM model for one cooldown-gated action bound
// to an SLA policy. Params are stored as a JSON object of string pairs.
type remediationActionRow struct {
	ID              int64      `gorm:"primaryKey;autoIncrement"`
	PolicyID        int64      `gorm:"column:policy_id;index"`
	ActionType      string     `gorm:"column:action_type;size:32"`
	Params          string     `gorm:"column:params;type:json"`
	CooldownSeconds int        `gorm:"column:cooldown_seconds"`
	LastExecutedAt  *time.Time `gorm:"column:last_executed_at"`
	Enabled         bool       `gorm:"column:enabled;index"`
}

func (remediationActionRow) TableName() string {
	return "remediation_actions"
}

// RemediationRepo persists remediation actions in MySQL.
type RemediationRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewRemediationRepo creates a new remediation repository.
func NewRemediationRepo(db *gorm.DB, logger log.Logger) *RemediationRepo {
	return &RemediationRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

var _ biz.RemediationRepo = (*RemediationRepo)(nil)

// ListEnabledActions returns the enabled actions attached to a policy.
func (r *RemediationRepo) ListEnabledActions(ctx context.Context, policyID int64) ([]*biz.RemediationAction, error) {
	var rows []remediationActionRow
	err := r.db.WithContext(ctx).
		Where("policy_id = ? AND enabled = ?", policyID, true).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list remediation actions: %w", err)
	}

	actions := make([]*biz.RemediationAction, 0, len(rows))
	for i := range rows {
		row := &rows[i]

		params := map[string]string{}
		if row.Params != "" {
			if err := json.Unmarshal([]byte(row.Params), &params); err != nil {
				r.logger.Warnw("failed to decode action params, skipping action",
					"action_id", row.ID, "error", err)
				continue
			}
		}

		actions = append(actions, &biz.RemediationAction{
			ID:              row.ID,
			PolicyID:        row.PolicyID,
			ActionType:      row.ActionType,
			Params:          params,
			CooldownSeconds: row.CooldownSeconds,
			LastExecutedAt:  row.LastExecutedAt,
			Enabled:         row.Enabled,
		})
	}
	return actions, nil
}

// MarkExecuted stamps last_executed_at after a successful execution.
func (r *RemediationRepo) MarkExecuted(ctx context.Context, actionID int64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&remediationActionRow{}).
		Where("id = ?", actionID).
		Update("last_executed_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark action executed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("remediation action not found: %d", actionID)
	}
	return nil
}
