package biz

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Anomaly types reported by the sweep.
const (
	AnomalyLowSuccessRate = "low_success_rate"
	AnomalyHighLatency    = "high_latency"
	AnomalyStatusDown     = "status_down"
)

// Recommendations attached to an anomaly.
const (
	RecommendAutoFailover = "auto_failover"
	RecommendEscalate     = "escalate"
	RecommendMonitor      = "monitor"
)

// Severity tiers of the success-rate and latency checks. A connector below
// the critical success rate or above the critical latency is scored high
// enough to clear the default auto-failover threshold.
const (
	criticalSuccessRate = 0.80
	warningSuccessRate  = 0.90
	criticalLatencyMs   = 2000
	warningLatencyMs    = 1000

	scoreCriticalSuccess = 0.95
	scoreWarningSuccess  = 0.75
	scoreCriticalLatency = 0.85
	scoreWarningLatency  = 0.65
	scoreStatusDown      = 0.90
)

// Anomaly is one finding of a sweep.
type Anomaly struct {
	Key            model.ConnectorKey
	Type           string
	Score          float64
	Reason         string
	Alternative    string
	Recommendation string
	ActionID       int64
}

// AnomalyConfig tunes the sweep.
type AnomalyConfig struct {
	// Enabled gates automatic failover. Detection and escalation run
	// regardless.
	Enabled bool

	// AutoThreshold is the minimum anomaly score for an automatic failover.
	AutoThreshold float64

	// Cooldown is the minimum gap between automatic failovers off the same
	// connector.
	Cooldown time.Duration

	// RecentWindow bounds how stale a snapshot may be and still be swept.
	RecentWindow time.Duration
}

// FailoverProposer is the slice of the failover orchestrator the detector
// needs: propose-and-run plus the cooldown lookup.
type FailoverProposer interface {
	Propose(ctx context.Context, req *ProposeRequest) (*FailoverAction, error)
	ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error)
	ExecuteAsync(id int64)
}

// AnomalyUseCase periodically sweeps recent health snapshots, scores each
// degradation, and either triggers an automatic failover or escalates to
// operators.
type AnomalyUseCase struct {
	health   HealthRepo
	failover FailoverProposer
	notifier Notifier
	audit    AuditLogger
	cfg      AnomalyConfig
	logger   *log.Helper
}

// NewAnomalyUseCase creates the anomaly detector.
func NewAnomalyUseCase(health HealthRepo, failover FailoverProposer, notifier Notifier, audit AuditLogger, cfg AnomalyConfig, logger log.Logger) *AnomalyUseCase {
	return &AnomalyUseCase{
		health:   health,
		failover: failover,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   log.NewHelper(logger),
	}
}

// Sweep inspects every snapshot reported within the recent window and
// handles each anomaly independently. One connector's failure never blocks
// the rest of the sweep.
func (uc *AnomalyUseCase) Sweep(ctx context.Context) ([]*Anomaly, error) {
	since := time.Now().Add(-uc.cfg.RecentWindow)
	snapshots, err := uc.health.ListRecent(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent health snapshots: %w", err)
	}

	var findings []*Anomaly
	for _, snap := range snapshots {
		anomaly := detect(snap)
		if anomaly == nil {
			continue
		}
		if err := uc.handle(ctx, anomaly); err != nil {
			uc.logger.Errorw("failed to handle anomaly",
				"key", anomaly.Key.String(),
				"type", anomaly.Type,
				"error", err)
		}
		findings = append(findings, anomaly)
	}

	if len(findings) > 0 {
		uc.logger.Infow("anomaly sweep finished",
			"snapshots", len(snapshots),
			"anomalies", len(findings))
	}
	return findings, nil
}

// detect applies the rules in precedence order: success-rate tiers first,
// then latency tiers, then the reported status. The first matching rule
// wins, so a connector that is both failing and slow reports the
// success-rate anomaly.
func detect(snap *model.HealthSnapshot) *Anomaly {
	anomaly := func(typ string, score float64, reason string) *Anomaly {
		return &Anomaly{Key: snap.Key, Type: typ, Score: score, Reason: reason}
	}

	switch {
	case snap.SuccessRate < criticalSuccessRate:
		return anomaly(AnomalyLowSuccessRate, scoreCriticalSuccess,
			fmt.Sprintf("success rate %.2f below critical %.2f", snap.SuccessRate, criticalSuccessRate))
	case snap.SuccessRate < warningSuccessRate:
		return anomaly(AnomalyLowSuccessRate, scoreWarningSuccess,
			fmt.Sprintf("success rate %.2f below warning %.2f", snap.SuccessRate, warningSuccessRate))
	case snap.AvgLatencyMs > criticalLatencyMs:
		return anomaly(AnomalyHighLatency, scoreCriticalLatency,
			fmt.Sprintf("avg latency %.0fms above critical %dms", snap.AvgLatencyMs, criticalLatencyMs))
	case snap.AvgLatencyMs > warningLatencyMs:
		return anomaly(AnomalyHighLatency, scoreWarningLatency,
			fmt.Sprintf("avg latency %.0fms above warning %dms", snap.AvgLatencyMs, warningLatencyMs))
	case snap.Status == model.HealthStatusDown || snap.Status == model.HealthStatusDegraded:
		return anomaly(AnomalyStatusDown, scoreStatusDown,
			fmt.Sprintf("connector status is %s", snap.Status))
	}

	return nil
}

// handle resolves an alternative, decides between auto-failover and
// escalation, and records the outcome.
func (uc *AnomalyUseCase) handle(ctx context.Context, anomaly *Anomaly) error {
	alternative, err := uc.health.FindAlternative(ctx, anomaly.Key)
	if err != nil {
		return fmt.Errorf("failed to find alternative: %w", err)
	}
	anomaly.Alternative = alternative

	switch {
	case alternative == "":
		anomaly.Recommendation = RecommendMonitor
	case uc.autoEligible(ctx, anomaly):
		anomaly.Recommendation = RecommendAutoFailover
	default:
		anomaly.Recommendation = RecommendEscalate
	}

	uc.logger.Warnw("anomaly detected",
		"key", anomaly.Key.String(),
		"type", anomaly.Type,
		"score", anomaly.Score,
		"alternative", alternative,
		"recommendation", anomaly.Recommendation)
	uc.audit.LogAnomaly(ctx, anomaly.Key, anomaly.Type, anomaly.Score, anomaly.Recommendation)

	switch anomaly.Recommendation {
	case RecommendAutoFailover:
		return uc.autoFailover(ctx, anomaly)
	case RecommendEscalate, RecommendMonitor:
		return uc.escalate(ctx, anomaly)
	}
	return nil
}

// autoEligible gates automatic failover: the feature must be enabled, the
// score must clear the threshold, and no recent failover may have already
// moved traffic off the connector.
func (uc *AnomalyUseCase) autoEligible(ctx context.Context, anomaly *Anomaly) bool {
	if !uc.cfg.Enabled || anomaly.Score < uc.cfg.AutoThreshold {
		return false
	}

	recent, err := uc.failover.ExecutedSince(ctx, anomaly.Key.ConnectorID, time.Now().Add(-uc.cfg.Cooldown))
	if err != nil {
		uc.logger.Warnw("failed to check failover cooldown, escalating instead",
			"key", anomaly.Key.String(), "error", err)
		return false
	}
	if recent {
		uc.logger.Infow("auto failover suppressed by cooldown",
			"key", anomaly.Key.String(),
			"cooldown", uc.cfg.Cooldown.String())
		return false
	}
	return true
}

func (uc *AnomalyUseCase) autoFailover(ctx context.Context, anomaly *Anomaly) error {
	ref := fmt.Sprintf("sira-auto-%s-%s",
		time.Now().UTC().Format("20060102150405"), anomaly.Key.ConnectorID)

	action, err := uc.failover.Propose(ctx, &ProposeRequest{
		ActionRef:     ref,
		ConnectorFrom: anomaly.Key.ConnectorID,
		ConnectorTo:   anomaly.Alternative,
		Region:        anomaly.Key.Region,
		Currency:      anomaly.Key.Currency,
		RequestedBy:   RequesterSiraAuto,
		Rationale:     anomaly.Reason,
		SiraScore:     anomaly.Score,
	})
	if err != nil {
		return fmt.Errorf("failed to propose automatic failover: %w", err)
	}
	anomaly.ActionID = action.ID

	uc.failover.ExecuteAsync(action.ID)
	return nil
}

func (uc *AnomalyUseCase) escalate(ctx context.Context, anomaly *Anomaly) error {
	return uc.notifier.Publish(ctx, NotifyScopeOps, "anomaly.detected", &model.AnomalyEvent{
		Key:            anomaly.Key,
		AnomalyType:    anomaly.Type,
		AnomalyScore:   anomaly.Score,
		Alternative:    anomaly.Alternative,
		Recommendation: anomaly.Recommendation,
		Reason:         anomaly.Reason,
	})
}
