package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RouteGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// connectorProfileRow is the GORM model for one connector's commercial terms.
type connectorProfileRow struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	ConnectorID  string  `gorm:"column:connector_id;size:64;uniqueIndex:uk_profile_key,priority:1"`
	Region       string  `gorm:"column:region;size:16;uniqueIndex:uk_profile_key,priority:2"`
	Currency     string  `gorm:"column:currency;size:8;uniqueIndex:uk_profile_key,priority:3"`
	Country      string  `gorm:"column:country;size:8"`
	FlatFee      float64 `gorm:"column:flat_fee"`
	PercentFee   float64 `gorm:"column:percent_fee"`
	DelaySeconds int     `gorm:"column:delay_seconds"`
	RiskScore    float64 `gorm:"column:risk_score"`
	Enabled      bool    `gorm:"column:enabled;index"`
}

func (connectorProfileRow) TableName() string {
	return "connector_profiles"
}

// routingAdjustmentRow is the GORM model for a time-bounded score modifier.
type routingAdjustmentRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Scope     string    `gorm:"column:scope;size:64;index"`
	Weight    float64   `gorm:"column:weight"`
	Bias      float64   `gorm:"column:bias"`
	ExpiresAt time.Time `gorm:"column:expires_at;index"`
	CreatedBy string    `gorm:"column:created_by;size:64"`
	Revoked   bool      `gorm:"column:revoked"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (routingAdjustmentRow) TableName() string {
	return "routing_adjustments"
}

// routingDecisionRow is the GORM model for one persisted scoring event. The
// full candidate list is stored as JSON so overrides never lose it.
type routingDecisionRow struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	PayoutID          string    `gorm:"column:payout_id;size:64;index"`
	OriginModule      string    `gorm:"column:origin_module;size:32"`
	Amount            float64   `gorm:"column:amount"`
	Currency          string    `gorm:"column:currency;size:8"`
	Country           string    `gorm:"column:country;size:8"`
	ChosenConnectorID string    `gorm:"column:chosen_connector_id;size:64"`
	Reason            string    `gorm:"column:reason;size:32"`
	Candidates        string    `gorm:"column:candidates;type:json"`
	OverriddenBy      string    `gorm:"column:overridden_by;size:64"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (routingDecisionRow) TableName() string {
	return "routing_decisions"
}

// RoutingRepo persists connector profiles, adjustments and decisions in MySQL.
type RoutingRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewRoutingRepo creates a new routing repository.
func NewRoutingRepo(db *gorm.DB, logger log.Logger) *RoutingRepo {
	return &RoutingRepo{
		db:     db,
		logger: log.NewHelper(logger),
	}
}

var _ biz.RoutingRepo = (*RoutingRepo)(nil)

// ListProfiles returns enabled connector profiles supporting the currency.
func (r *RoutingRepo) ListProfiles(ctx context.Context, currency string) ([]*biz.ConnectorProfile, error) {
	var rows []connectorProfileRow
	err := r.db.WithContext(ctx).
		Where("currency = ? AND enabled = ?", currency, true).
		Order("connector_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connector profiles: %w", err)
	}

	profiles := make([]*biz.ConnectorProfile, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		profiles = append(profiles, &biz.ConnectorProfile{
			ConnectorID:  row.ConnectorID,
			Region:       row.Region,
			Currency:     row.Currency,
			Country:      row.Country,
			FlatFee:      row.FlatFee,
			PercentFee:   row.PercentFee,
			DelaySeconds: row.DelaySeconds,
			RiskScore:    row.RiskScore,
			Enabled:      row.Enabled,
		})
	}
	return profiles, nil
}

// UpsertProfile creates or replaces a connector profile.
func (r *RoutingRepo) UpsertProfile(ctx context.Context, p *biz.ConnectorProfile) error {
	row := &connectorProfileRow{
		ConnectorID:  p.ConnectorID,
		Region:       p.Region,
		Currency:     p.Currency,
		Country:      p.Country,
		FlatFee:      p.FlatFee,
		PercentFee:   p.PercentFee,
		DelaySeconds: p.DelaySeconds,
		RiskScore:    p.RiskScore,
		Enabled:      p.Enabled,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connector_id"}, {Name: "region"}, {Name: "currency"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"country", "flat_fee", "percent_fee", "delay_seconds", "risk_score", "enabled",
			}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert connector profile: %w", err)
	}
	return nil
}

// ActiveAdjustments returns unrevoked adjustments that have not expired.
func (r *RoutingRepo) ActiveAdjustments(ctx context.Context, now time.Time) ([]*biz.RoutingAdjustment, error) {
	var rows []routingAdjustmentRow
	err := r.db.WithContext(ctx).
		Where("revoked = ? AND expires_at > ?", false, now).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active adjustments: %w", err)
	}
	return adjustmentRowsToBiz(rows), nil
}

// CreateAdjustment persists a new adjustment and sets its ID.
func (r *RoutingRepo) CreateAdjustment(ctx context.Context, adj *biz.RoutingAdjustment) error {
	row := &routingAdjustmentRow{
		Scope:     adj.Scope,
		Weight:    adj.Weight,
		Bias:      adj.Bias,
		ExpiresAt: adj.ExpiresAt,
		CreatedBy: adj.CreatedBy,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create adjustment: %w", err)
	}

	adj.ID = row.ID
	adj.CreatedAt = row.CreatedAt
	return nil
}

// ListAdjustments returns adjustments, optionally including expired and
// revoked ones.
func (r *RoutingRepo) ListAdjustments(ctx context.Context, includeExpired bool) ([]*biz.RoutingAdjustment, error) {
	q := r.db.WithContext(ctx).Model(&routingAdjustmentRow{})
	if !includeExpired {
		q = q.Where("revoked = ? AND expires_at > ?", false, time.Now())
	}

	var rows []routingAdjustmentRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	return adjustmentRowsToBiz(rows), nil
}

// RevokeAdjustment marks an adjustment revoked. False when absent.
func (r *RoutingRepo) RevokeAdjustment(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&routingAdjustmentRow{}).
		Where("id = ?", id).
		Update("revoked", true)
	if result.Error != nil {
		return false, fmt.Errorf("failed to revoke adjustment: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SaveDecision appends a routing decision and sets its ID.
func (r *RoutingRepo) SaveDecision(ctx context.Context, d *biz.RoutingDecision) error {
	candidates, err := json.Marshal(d.Candidates)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}

	row := &routingDecisionRow{
		PayoutID:          d.PayoutID,
		OriginModule:      d.OriginModule,
		Amount:            d.Amount,
		Currency:          d.Currency,
		Country:           d.Country,
		ChosenConnectorID: d.ChosenConnectorID,
		Reason:            d.Reason,
		Candidates:        string(candidates),
		CreatedAt:         d.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to save routing decision: %w", err)
	}

	d.ID = row.ID
	return nil
}

// GetDecision returns a decision by id, or (nil, nil) when absent.
func (r *RoutingRepo) GetDecision(ctx context.Context, id int64) (*biz.RoutingDecision, error) {
	var row routingDecisionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get routing decision: %w", err)
	}

	var candidates []biz.RouteCandidate
	if row.Candidates != "" {
		if err := json.Unmarshal([]byte(row.Candidates), &candidates); err != nil {
			r.logger.Warnw("failed to decode decision candidates", "decision_id", id, "error", err)
		}
	}

	return &biz.RoutingDecision{
		ID:                row.ID,
		PayoutID:          row.PayoutID,
		OriginModule:      row.OriginModule,
		Amount:            row.Amount,
		Currency:          row.Currency,
		Country:           row.Country,
		ChosenConnectorID: row.ChosenConnectorID,
		Reason:            row.Reason,
		Candidates:        candidates,
		OverriddenBy:      row.OverriddenBy,
		CreatedAt:         row.CreatedAt,
	}, nil
}

// OverrideDecision patches the chosen connector exactly once. The
// overridden_by guard makes a second override lose the conditional update.
func (r *RoutingRepo) OverrideDecision(ctx context.Context, id int64, connectorID, reason, actor string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&routingDecisionRow{}).
		Where("id = ? AND overridden_by = ?", id, "").
		Updates(map[string]interface{}{
			"chosen_connector_id": connectorID,
			"reason":              reason,
			"overridden_by":       actor,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to override decision: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func adjustmentRowsToBiz(rows []routingAdjustmentRow) []*biz.RoutingAdjustment {
	adjs := make([]*biz.RoutingAdjustment, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		adjs = append(adjs, &biz.RoutingAdjustment{
			ID:        row.ID,
			Scope:     row.Scope,
			Weight:    row.Weight,
			Bias:      row.Bias,
			ExpiresAt: row.ExpiresAt,
			CreatedBy: row.CreatedBy,
			Revoked:   row.Revoked,
			CreatedAt: row.CreatedAt,
		})
	}
	return adjs
}
