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

// failoverActionRow is the GORM model for one failover action. The unique
// action_ref index collapses duplicate proposals from retried triggers.
type failoverActionRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ActionRef     string    `gorm:"column:action_ref;size:128;uniqueIndex"`
	ConnectorFrom string    `gorm:"column:connector_from;size:64;index"`
	ConnectorTo   string    `gorm:"column:connector_to;size:64"`
	Region        string    `gorm:"column:region;size:16"`
	Currency      string    `gorm:"column:currency;size:8"`
	RequestedBy   string    `gorm:"column:requested_by;size:64"`
	Rationale     string    `gorm:"column:rationale;size:512"`
	SiraScore     float64   `gorm:"column:sira_score"`
	Status        string    `gorm:"column:status;size:16;index"`
	ApprovedBy    string    `gorm:"column:approved_by;size:64"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (failoverActionRow) TableName() string {
	return "failover_actions"
}

// failoverHistoryRow is the GORM model for one append-only execution step.
type failoverHistoryRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ActionID  int64     `gorm:"column:action_id;index"`
	Step      string    `gorm:"column:step;size:16"`
	Details   string    `gorm:"column:details;size:1024"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (failoverHistoryRow) TableName() string {
	return "failover_history"
}

// FailoverRepo persists failover actions and history in MySQL. All status
// transitions are conditional updates guarded on the current status.
type FailoverRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewFailoverRepo creates a new failover repository.
func NewFailoverRepo(db *gorm.DB, logger log.Logger) *FailoverRepo {
	return &FailoverRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

var _ biz.FailoverRepo = (*FailoverRepo)(nil)

// Create inserts a pending action. A duplicate action_ref returns false so
// retried proposals collapse to the existing row.
func (r *FailoverRepo) Create(ctx context.Context, a *biz.FailoverAction) (bool, error) {
	row := &failoverActionRow{
		ActionRef:     a.ActionRef,
		ConnectorFrom: a.ConnectorFrom,
		ConnectorTo:   a.ConnectorTo,
		Region:        a.Region,
		Currency:      a.Currency,
		RequestedBy:   a.RequestedBy,
		Rationale:     a.Rationale,
		SiraScore:     a.SiraScore,
		Status:        biz.FailoverPending,
	}

	err := r.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create failover action: %w", err)
	}

	a.ID = row.ID
	a.Status = biz.FailoverPending
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return true, nil
}

// Get returns the action by id, or (nil, nil) when absent.
func (r *FailoverRepo) Get(ctx context.Context, id int64) (*biz.FailoverAction, error) {
	var row failoverActionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failover action: %w", err)
	}
	return actionRowToBiz(&row), nil
}

// GetByRef returns the action by action_ref, or (nil, nil) when absent.
func (r *FailoverRepo) GetByRef(ctx context.Context, ref string) (*biz.FailoverAction, error) {
	var row failoverActionRow
	err := r.db.WithContext(ctx).Where("action_ref = ?", ref).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failover action by ref: %w", err)
	}
	return actionRowToBiz(&row), nil
}

// Approve stamps the approver while the action is still pending.
func (r *FailoverRepo) Approve(ctx context.Context, id int64, approver string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&failoverActionRow{}).
		Where("id = ? AND status = ?", id, biz.FailoverPending).
		Update("approved_by", approver)
	if result.Error != nil {
		return false, fmt.Errorf("failed to approve failover action: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkExecuting transitions pending -> executing. The status guard makes
// concurrent executions collapse to one winner.
func (r *FailoverRepo) MarkExecuting(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&failoverActionRow{}).
		Where("id = ? AND status = ?", id, biz.FailoverPending).
		Update("status", biz.FailoverExecuting)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark failover executing: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkTerminal transitions executing -> executed/failed.
func (r *FailoverRepo) MarkTerminal(ctx context.Context, id int64, status string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&failoverActionRow{}).
		Where("id = ? AND status = ?", id, biz.FailoverExecuting).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark failover terminal: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Cancel transitions pending -> cancelled.
func (r *FailoverRepo) Cancel(ctx context.Context, id int64, actor string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&failoverActionRow{}).
		Where("id = ? AND status = ?", id, biz.FailoverPending).
		Updates(map[string]interface{}{
			"status":      biz.FailoverCancelled,
			"approved_by": actor,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel failover action: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AppendHistory appends one history entry for the action.
func (r *FailoverRepo) AppendHistory(ctx context.Context, actionID int64, step, details string) error {
	row := &failoverHistoryRow{
		ActionID: actionID,
		Step:     step,
		Details:  details,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to append failover history: %w", err)
	}
	return nil
}

// History returns the action's history, oldest first.
func (r *FailoverRepo) History(ctx context.Context, actionID int64) ([]*biz.FailoverHistoryEntry, error) {
	var rows []failoverHistoryRow
	err := r.db.WithContext(ctx).
		Where("action_id = ?", actionID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failover history: %w", err)
	}

	entries := make([]*biz.FailoverHistoryEntry, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		entries = append(entries, &biz.FailoverHistoryEntry{
			ID:        row.ID,
			ActionID:  row.ActionID,
			Step:      row.Step,
			Details:   row.Details,
			CreatedAt: row.CreatedAt,
		})
	}
	return entries, nil
}

// ExecutedSince reports whether any action off the given connector reached a
// terminal state after the cutoff.
func (r *FailoverRepo) ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&failoverActionRow{}).
		Where("connector_from = ? AND status IN ? AND updated_at > ?",
			connectorFrom, []string{biz.FailoverExecuted, biz.FailoverFailed}, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check recent failovers: %w", err)
	}
	return count > 0, nil
}

func actionRowToBiz(row *failoverActionRow) *biz.FailoverAction {
	return &biz.FailoverAction{
		ID:            row.ID,
		ActionRef:     row.ActionRef,
		ConnectorFrom: row.ConnectorFrom,
		ConnectorTo:   row.ConnectorTo,
		Region:        row.Region,
		Currency:      row.Currency,
		RequestedBy:   row.RequestedBy,
		Rationale:     row.Rationale,
		SiraScore:     row.SiraScore,
		Status:        row.Status,
		ApprovedBy:    row.ApprovedBy,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
