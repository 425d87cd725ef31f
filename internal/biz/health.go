package biz

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Derived status thresholds for reports that do not declare a status.
const (
	healthySuccessRate  = 0.95
	degradedSuccessRate = 0.80
)

// HealthRepo persists connector health snapshots. Upserts are last-write-wins
// keyed by (connector, region, currency); each write is internally consistent
// but no cross-write ordering is guaranteed.
type HealthRepo interface {
	// Upsert replaces the snapshot for the given key.
	Upsert(ctx context.Context, snap *model.HealthSnapshot) error

	// Get returns the current snapshot, or (nil, nil) when none exists.
	Get(ctx context.Context, key model.ConnectorKey) (*model.HealthSnapshot, error)

	// ListRecent returns snapshots checked after the cutoff, newest first.
	ListRecent(ctx context.Context, since time.Time) ([]*model.HealthSnapshot, error)

	// FindAlternative returns the healthiest other connector for the same
	// region and currency (success rate >= 0.95, ordered by success rate
	// descending then latency ascending), or "" when none qualifies.
	FindAlternative(ctx context.Context, key model.ConnectorKey) (string, error)
}

// FailureRecorder receives failure signals on down transitions. The breaker
// owns all failure counting; the registry only forwards the signal.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, key model.ConnectorKey) error
}

// HealthUseCase is the health registry: it accepts probe and webhook reports
// and serves current snapshots to the route scorer and anomaly detector.
type HealthUseCase struct {
	repo    HealthRepo
	breaker FailureRecorder
	audit   AuditLogger
	logger  *log.Helper
}

// NewHealthUseCase creates a health registry use case.
func NewHealthUseCase(repo HealthRepo, breaker FailureRecorder, audit AuditLogger, logger log.Logger) *HealthUseCase {
	return &HealthUseCase{
		repo:    repo,
		breaker: breaker,
		audit:   audit,
		logger:  log.NewHelper(logger),
	}
}

// ReportHealth upserts the snapshot for the reported key. Every report with
// status "down" forwards one failure signal to the circuit breaker; the
// breaker's own threshold ensures a single bad probe never opens it.
func (uc *HealthUseCase) ReportHealth(ctx context.Context, key model.ConnectorKey, metrics model.HealthMetrics) (*model.HealthSnapshot, error) {
	status := metrics.Status
	if status == "" {
		status = deriveStatus(metrics.SuccessRate)
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("invalid health status %q for %s", status, key)
	}

	prev, err := uc.repo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read previous snapshot: %w", err)
	}

	snap := &model.HealthSnapshot{
		Key:           key,
		Status:        status,
		SuccessRate:   metrics.SuccessRate,
		AvgLatencyMs:  metrics.AvgLatencyMs,
		ErrorCount:    metrics.ErrorCount,
		LastCheckedAt: time.Now(),
	}

	if err := uc.repo.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to upsert health snapshot: %w", err)
	}

	prevStatus := ""
	if prev != nil {
		prevStatus = prev.Status
	}
	if prevStatus != status {
		uc.logger.Infow("health status transition",
			"key", key.String(),
			"from", prevStatus,
			"to", status,
			"success_rate", metrics.SuccessRate,
			"avg_latency_ms", metrics.AvgLatencyMs)
		uc.audit.LogHealthTransition(ctx, key, prevStatus, status)
	}

	// Every down report feeds one failure signal. The breaker owns the
	// counting, so a single bad probe never opens it by itself.
	if status == model.HealthStatusDown {
		if err := uc.breaker.RecordFailure(ctx, key); err != nil {
			// Breaker bookkeeping failure must not reject the report.
			uc.logger.Warnw("failed to forward down signal to breaker",
				"key", key.String(), "error", err)
		}
	}

	return snap, nil
}

// GetHealth returns the current snapshot for the key, or (nil, nil) when the
// connector has never reported.
func (uc *HealthUseCase) GetHealth(ctx context.Context, key model.ConnectorKey) (*model.HealthSnapshot, error) {
	return uc.repo.Get(ctx, key)
}

// ListRecent returns snapshots checked within the given window.
func (uc *HealthUseCase) ListRecent(ctx context.Context, window time.Duration) ([]*model.HealthSnapshot, error) {
	return uc.repo.ListRecent(ctx, time.Now().Add(-window))
}

func deriveStatus(successRate float64) string {
	switch {
	case successRate >= healthySuccessRate:
		return model.HealthStatusHealthy
	case successRate >= degradedSuccessRate:
		return model.HealthStatusDegraded
	default:
		return model.HealthStatusDown
	}
}

func validStatus(s string) bool {
	switch s {
	case model.HealthStatusHealthy, model.HealthStatusDegraded, model.HealthStatusDown:
		return true
	}
	return false
}
