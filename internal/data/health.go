package data

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// healthCacheTTL bounds how stale a cached snapshot served to the route
// scorer may be.
const (
	healthCacheSize = 1024
	healthCacheTTL  = 5 * time.Second
)

// healthSnapshotRow is the GORM model backing one connector's health record.
type healthSnapshotRow struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	ConnectorID   string    `gorm:"column:connector_id;size:64;uniqueIndex:uk_health_key,priority:1"`
	Region        string    `gorm:"column:region;size:16;uniqueIndex:uk_health_key,priority:2"`
	Currency      string    `gorm:"column:currency;size:8;uniqueIndex:uk_health_key,priority:3"`
	Status        string    `gorm:"column:status;size:16;index"`
	SuccessRate   float64   `gorm:"column:success_rate"`
	AvgLatencyMs  float64   `gorm:"column:avg_latency_ms"`
	ErrorCount    int       `gorm:"column:error_count"`
	LastCheckedAt time.Time `gorm:"column:last_checked_at;index"`
}

func (healthSnapshotRow) TableName() string {
	return "connector_health"
}

// HealthRepo stores health snapshots in MySQL behind a short-TTL in-process
// cache. The scorer reads health on every routing call; the cache keeps that
// hot path off the database.
type HealthRepo struct {
	db     *gorm.DB
	cache  *expirable.LRU[string, *model.HealthSnapshot]
	logger *log.Helper
}

// NewHealthRepo creates a new health snapshot repository.
func NewHealthRepo(db *gorm.DB, logger log.Logger) *HealthRepo {
	return &HealthRepo{
		db:     db,
		cache:  expirable.NewLRU[string, *model.HealthSnapshot](healthCacheSize, nil, healthCacheTTL),
		logger: log.NewHelper(logger),
	}
}

var _ biz.HealthRepo = (*HealthRepo)(nil)

// Upsert replaces the snapshot for the given key. Last write wins.
func (r *HealthRepo) Upsert(ctx context.Context, snap *model.HealthSnapshot) error {
	row := &healthSnapshotRow{
		ConnectorID:   snap.Key.ConnectorID,
		Region:        snap.Key.Region,
		Currency:      snap.Key.Currency,
		Status:        snap.Status,
		SuccessRate:   snap.SuccessRate,
		AvgLatencyMs:  snap.AvgLatencyMs,
		ErrorCount:    snap.ErrorCount,
		LastCheckedAt: snap.LastCheckedAt,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connector_id"}, {Name: "region"}, {Name: "currency"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "success_rate", "avg_latency_ms", "error_count", "last_checked_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert health snapshot: %w", err)
	}

	r.cache.Add(snap.Key.String(), snap)
	return nil
}

// Get returns the current snapshot, or (nil, nil) when none exists.
func (r *HealthRepo) Get(ctx context.Context, key model.ConnectorKey) (*model.HealthSnapshot, error) {
	if snap, ok := r.cache.Get(key.String()); ok {
		return snap, nil
	}

	var row healthSnapshotRow
	err := r.db.WithContext(ctx).
		Where("connector_id = ? AND region = ? AND currency = ?",
			key.ConnectorID, key.Region, key.Currency).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health snapshot: %w", err)
	}

	snap := rowToSnapshot(&row)
	r.cache.Add(key.String(), snap)
	return snap, nil
}

// ListRecent returns snapshots checked after the cutoff, newest first.
func (r *HealthRepo) ListRecent(ctx context.Context, since time.Time) ([]*model.HealthSnapshot, error) {
	var rows []healthSnapshotRow
	err := r.db.WithContext(ctx).
		Where("last_checked_at > ?", since).
		Order("last_checked_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent health snapshots: %w", err)
	}

	snaps := make([]*model.HealthSnapshot, 0, len(rows))
	for i := range rows {
		snaps = append(snaps, rowToSnapshot(&rows[i]))
	}
	return snaps, nil
}

// FindAlternative returns the healthiest other connector serving the same
// region and currency, or "" when none clears the success-rate bar.
func (r *HealthRepo) FindAlternative(ctx context.Context, key model.ConnectorKey) (string, error) {
	var row healthSnapshotRow
	err := r.db.WithContext(ctx).
		Where("region = ? AND currency = ? AND connector_id <> ? AND success_rate >= ?",
			key.Region, key.Currency, key.ConnectorID, 0.95).
		Order("success_rate DESC, avg_latency_ms ASC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find alternative connector: %w", err)
	}

	return row.ConnectorID, nil
}

func rowToSnapshot(row *healthSnapshotRow) *model.HealthSnapshot {
	return &model.HealthSnapshot{
		Key: model.ConnectorKey{
			ConnectorID: row.ConnectorID,
			Region:      row.Region,
			Currency:    row.Currency,
		},
		Status:        row.Status,
		SuccessRate:   row.SuccessRate,
		AvgLatencyMs:  row.AvgLatencyMs,
		ErrorCount:    row.ErrorCount,
		LastCheckedAt: row.LastCheckedAt,
	}
}
