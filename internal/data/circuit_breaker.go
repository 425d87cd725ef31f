package data

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// circuitBreakerRow is the GORM model backing one connector breaker.
type circuitBreakerRow struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement"`
	ConnectorID        string     `gorm:"column:connector_id;size:64;uniqueIndex:uk_breaker_key,priority:1"`
	Region             string     `gorm:"column:region;size:16;uniqueIndex:uk_breaker_key,priority:2"`
	Currency           string     `gorm:"column:currency;size:8;uniqueIndex:uk_breaker_key,priority:3"`
	State              string     `gorm:"column:state;size:16"`
	FailureCount       int        `gorm:"column:failure_count"`
	OpenedAt           *time.Time `gorm:"column:opened_at"`
	HalfOpenProbeCount int        `gorm:"column:half_open_probe_count"`
	CreatedAt          time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (circuitBreakerRow) TableName() string {
	return "circuit_breakers"
}

// CircuitBreakerRepo persists breaker rows in MySQL. The half-open probe
// slot lives in Redis so the claim is a single atomic SETNX across replicas.
type CircuitBreakerRepo struct {
	db     *gorm.DB
	rdb    *redis.Client
	logger *log.Helper
}

// NewCircuitBreakerRepo creates a new circuit breaker repository.
func NewCircuitBreakerRepo(db *gorm.DB, d *Data, logger log.Logger) *CircuitBreakerRepo {
	return &CircuitBreakerRepo{
		db:     db,
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

var _ biz.CircuitBreakerRepo = (*CircuitBreakerRepo)(nil)

// Get returns the breaker row for key, or (nil, nil) when none exists.
func (r *CircuitBreakerRepo) Get(ctx context.Context, key model.ConnectorKey) (*biz.BreakerState, error) {
	var row circuitBreakerRow
	err := r.keyed(ctx, key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get breaker row: %w", err)
	}

	return &biz.BreakerState{
		Key:                key,
		State:              row.State,
		FailureCount:       row.FailureCount,
		OpenedAt:           row.OpenedAt,
		HalfOpenProbeCount: row.HalfOpenProbeCount,
	}, nil
}

// Create inserts a closed breaker row with the given failure count.
func (r *CircuitBreakerRepo) Create(ctx context.Context, key model.ConnectorKey, failureCount int) error {
	row := &circuitBreakerRow{
		ConnectorID:  key.ConnectorID,
		Region:       key.Region,
		Currency:     key.Currency,
		State:        biz.BreakerClosed,
		FailureCount: failureCount,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create breaker row: %w", err)
	}
	return nil
}

// IncrementFailure adds one failure to a closed breaker and returns the
// resulting count.
func (r *CircuitBreakerRepo) IncrementFailure(ctx context.Context, key model.ConnectorKey) (int, error) {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerClosed).
		Update("failure_count", gorm.Expr("failure_count + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to increment failure count: %w", result.Error)
	}

	var row circuitBreakerRow
	if err := r.keyed(ctx, key).First(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to read failure count: %w", err)
	}
	return row.FailureCount, nil
}

// ResetFailures zeroes the failure count of a closed breaker.
func (r *CircuitBreakerRepo) ResetFailures(ctx context.Context, key model.ConnectorKey) error {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerClosed).
		Update("failure_count", 0)
	if result.Error != nil {
		return fmt.Errorf("failed to reset failure count: %w", result.Error)
	}
	return nil
}

// TripOpen transitions closed -> open. The state guard in the WHERE clause
// makes concurrent trips collapse to one winner.
func (r *CircuitBreakerRepo) TripOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error) {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerClosed).
		Updates(map[string]interface{}{
			"state":     biz.BreakerOpen,
			"opened_at": openedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to trip breaker: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MoveHalfOpen transitions open -> half_open and resets the probe counter.
func (r *CircuitBreakerRepo) MoveHalfOpen(ctx context.Context, key model.ConnectorKey) (bool, error) {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerOpen).
		Updates(map[string]interface{}{
			"state":                 biz.BreakerHalfOpen,
			"half_open_probe_count": 0,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to move breaker to half_open: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CloseBreaker transitions half_open -> closed and zeroes the failure count.
func (r *CircuitBreakerRepo) CloseBreaker(ctx context.Context, key model.ConnectorKey) (bool, error) {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerHalfOpen).
		Updates(map[string]interface{}{
			"state":         biz.BreakerClosed,
			"failure_count": 0,
			"opened_at":     nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to close breaker: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Reopen transitions half_open -> open with a fresh opened_at timestamp.
func (r *CircuitBreakerRepo) Reopen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error) {
	result := r.keyed(ctx, key).
		Where("state = ?", biz.BreakerHalfOpen).
		Updates(map[string]interface{}{
			"state":     biz.BreakerOpen,
			"opened_at": openedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to reopen breaker: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ForceOpen sets the breaker open regardless of current state, creating the
// row if needed.
func (r *CircuitBreakerRepo) ForceOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) error {
	result := r.keyed(ctx, key).
		Updates(map[string]interface{}{
			"state":     biz.BreakerOpen,
			"opened_at": openedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to force-open breaker: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	row := &circuitBreakerRow{
		ConnectorID: key.ConnectorID,
		Region:      key.Region,
		Currency:    key.Currency,
		State:       biz.BreakerOpen,
		OpenedAt:    &openedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to create open breaker row: %w", err)
	}
	return nil
}

// ClaimProbe atomically claims the single half-open trial slot using SETNX.
// The TTL bounds how long a crashed prober can hold the slot.
func (r *CircuitBreakerRepo) ClaimProbe(ctx context.Context, key model.ConnectorKey, ttl time.Duration) (bool, error) {
	claimed, err := r.rdb.SetNX(ctx, probeKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim probe slot: %w", err)
	}

	if claimed {
		r.logger.Debugw("probe slot claimed", "key", key.String(), "ttl", ttl)
	}
	return claimed, nil
}

// ReleaseProbe releases the half-open trial slot.
func (r *CircuitBreakerRepo) ReleaseProbe(ctx context.Context, key model.ConnectorKey) error {
	if err := r.rdb.Del(ctx, probeKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release probe slot: %w", err)
	}
	return nil
}

// IncrementProbeCount increments and returns the half-open probe counter.
func (r *CircuitBreakerRepo) IncrementProbeCount(ctx context.Context, key model.ConnectorKey) (int, error) {
	result := r.keyed(ctx, key).
		Update("half_open_probe_count", gorm.Expr("half_open_probe_count + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to increment probe count: %w", result.Error)
	}

	var row circuitBreakerRow
	if err := r.keyed(ctx, key).First(&row).Error; err != nil {
		return 0, fmt.Errorf("failed to read probe count: %w", err)
	}
	return row.HalfOpenProbeCount, nil
}

// keyed scopes a query to one breaker row.
func (r *CircuitBreakerRepo) keyed(ctx context.Context, key model.ConnectorKey) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&circuitBreakerRow{}).
		Where("connector_id = ? AND region = ? AND currency = ?",
			key.ConnectorID, key.Region, key.Currency)
}

func probeKey(key model.ConnectorKey) string {
	return fmt.Sprintf("breaker:%s:probe", key.String())
}
