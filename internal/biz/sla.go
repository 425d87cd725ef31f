package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"RouteGuard/internal/model"
)

// SLA alert statuses.
const (
	AlertOpen         = "open"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
	AlertSuppressed   = "suppressed"
)

// SLAPolicy is a declarative threshold rule over an operational metric.
// Policies are disabled rather than deleted to preserve alert history.
type SLAPolicy struct {
	ID             int64
	ConnectorScope string
	Rail           string
	Country        string
	Currency       string
	Metric         string
	Threshold      float64
	Operator       string
	Severity       string
	Enabled        bool
}

// SLAAlert is one breach of a policy. At most one open alert exists per
// policy at any time.
type SLAAlert struct {
	ID             int64
	PolicyID       int64
	ObservedValue  float64
	Threshold      float64
	Severity       string
	Status         string
	AcknowledgedBy string
	ResolvedBy     string
	CreatedAt      time.Time
}

// SLARepo persists policies and alerts. CreateOpenAlert enforces the
// one-open-alert-per-policy invariant transactionally.
type SLARepo interface {
	// ListEnabledPolicies returns all enabled policies.
	ListEnabledPolicies(ctx context.Context) ([]*SLAPolicy, error)

	// GetPolicy returns a policy by id, or (nil, nil) when absent.
	GetPolicy(ctx context.Context, id int64) (*SLAPolicy, error)

	// CreatePolicy persists a new policy and sets its ID.
	CreatePolicy(ctx context.Context, p *SLAPolicy) error

	// SetPolicyEnabled flips the enabled flag. False when absent.
	SetPolicyEnabled(ctx context.Context, id int64, enabled bool) (bool, error)

	// CreateOpenAlert inserts an open alert unless one is already open for
	// the policy. Returns false on a dedupe hit, never an error for it.
	CreateOpenAlert(ctx context.Context, alert *SLAAlert) (bool, error)

	// AcknowledgeAlert transitions open -> acknowledged and lifts the
	// dedupe suppression; only an open alert blocks a new one. False when
	// the alert is absent or not open.
	AcknowledgeAlert(ctx context.Context, id int64, actor string) (bool, error)

	// ResolveAlert transitions open/acknowledged -> resolved. False when
	// the alert is absent or already terminal.
	ResolveAlert(ctx context.Context, id int64, actor string) (bool, error)
}

// MetricsSource queries the external time-series backend for a scalar.
// The boolean result reports whether a sample existed for the expression.
type MetricsSource interface {
	QueryScalar(ctx context.Context, expr string) (float64, bool, error)
}

// RemediationRunner executes the auto-remediation actions bound to a policy.
// Invoked best-effort after alert creation; failures never propagate.
type RemediationRunner interface {
	RunActions(ctx context.Context, policyID, alertID int64)
}

// SLAConfig tunes the evaluator.
type SLAConfig struct {
	// QueryTimeout bounds each per-policy metrics query so one slow backend
	// call cannot stall the rest of the tick.
	QueryTimeout time.Duration
}

// ErrAlertNotActionable signals an ack/resolve against a missing or already
// terminal alert.
func ErrAlertNotActionable(id int64) *errors.Error {
	return errors.New(409, "ALERT_NOT_ACTIONABLE",
		fmt.Sprintf("alert %d is missing or not in an actionable state", id))
}

// SLAUseCase polls live metrics against declared policies and raises
// deduplicated alerts on breach.
type SLAUseCase struct {
	repo        SLARepo
	metrics     MetricsSource
	remediation RemediationRunner
	notifier    Notifier
	audit       AuditLogger
	cfg         SLAConfig
	logger      *log.Helper
}

// NewSLAUseCase creates an SLA evaluator use case.
func NewSLAUseCase(repo SLARepo, metrics MetricsSource, remediation RemediationRunner, notifier Notifier, audit AuditLogger, cfg SLAConfig, logger log.Logger) *SLAUseCase {
	return &SLAUseCase{
		repo:        repo,
		metrics:     metrics,
		remediation: remediation,
		notifier:    notifier,
		audit:       audit,
		cfg:         cfg,
		logger:      log.NewHelper(logger),
	}
}

// EvaluateAll runs one evaluation tick over every enabled policy, returning
// the number of new alerts raised. Per-policy failures are logged and
// isolated; they never abort the tick.
func (uc *SLAUseCase) EvaluateAll(ctx context.Context) (int, error) {
	policies, err := uc.repo.ListEnabledPolicies(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list enabled policies: %w", err)
	}

	raised := 0
	for _, policy := range policies {
		created, err := uc.evaluatePolicy(ctx, policy)
		if err != nil {
			// Local to this policy; continue with the next.
			uc.logger.Warnw("policy evaluation failed",
				"policy_id", policy.ID,
				"metric", policy.Metric,
				"error", err)
			continue
		}
		if created {
			raised++
		}
	}

	uc.logger.Infow("sla evaluation tick completed",
		"policies", len(policies),
		"alerts_raised", raised)
	return raised, nil
}

// evaluatePolicy queries the metric for one policy and raises an alert on
// breach. Returns whether a new alert was created.
func (uc *SLAUseCase) evaluatePolicy(ctx context.Context, policy *SLAPolicy) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, uc.queryTimeout())
	defer cancel()

	expr := BuildQuery(policy)
	value, found, err := uc.metrics.QueryScalar(qctx, expr)
	if err != nil {
		// Metrics unavailable is treated as "no sample": not a breach.
		uc.logger.Warnw("metrics query failed, treating as no sample",
			"policy_id", policy.ID,
			"expr", expr,
			"error", err)
		return false, nil
	}
	if !found {
		uc.logger.Debugw("no sample for policy metric",
			"policy_id", policy.ID,
			"expr", expr)
		return false, nil
	}

	if !Breached(value, policy.Operator, policy.Threshold) {
		uc.logger.Debugw("policy within threshold",
			"policy_id", policy.ID,
			"metric", policy.Metric,
			"observed", value,
			"threshold", policy.Threshold)
		return false, nil
	}

	alert := &SLAAlert{
		PolicyID:      policy.ID,
		ObservedValue: value,
		Threshold:     policy.Threshold,
		Severity:      policy.Severity,
		Status:        AlertOpen,
	}
	created, err := uc.repo.CreateOpenAlert(ctx, alert)
	if err != nil {
		return false, fmt.Errorf("failed to create alert: %w", err)
	}
	if !created {
		// An alert is still open for this policy; a second breaching tick
		// must not create a duplicate.
		uc.logger.Debugw("open alert already exists, breach deduplicated",
			"policy_id", policy.ID,
			"observed", value)
		return false, nil
	}

	uc.logger.Warnw("sla alert raised",
		"alert_id", alert.ID,
		"policy_id", policy.ID,
		"metric", policy.Metric,
		"observed", value,
		"operator", policy.Operator,
		"threshold", policy.Threshold,
		"severity", policy.Severity)
	uc.audit.LogAlertRaised(ctx, alert.ID, policy.ID, policy.Metric, value, policy.Threshold)

	if err := uc.notifier.Publish(ctx, NotifyScopeSLA, "sla.alert.raised", &model.AlertRaisedEvent{
		AlertID:       alert.ID,
		PolicyID:      policy.ID,
		Metric:        policy.Metric,
		ObservedValue: value,
		Threshold:     policy.Threshold,
		Operator:      policy.Operator,
		Severity:      policy.Severity,
	}); err != nil {
		uc.logger.Warnw("failed to publish alert event", "alert_id", alert.ID, "error", err)
	}

	// Remediation is best-effort and synchronous: its failures are logged
	// inside the dispatcher and never block the next policy.
	uc.remediation.RunActions(ctx, policy.ID, alert.ID)

	return true, nil
}

// CreatePolicy validates and persists a new threshold rule.
func (uc *SLAUseCase) CreatePolicy(ctx context.Context, p *SLAPolicy) (*SLAPolicy, error) {
	if p.Metric == "" {
		return nil, fmt.Errorf("policy metric is required")
	}
	switch p.Operator {
	case ">=", "<=", ">", "<":
	default:
		return nil, fmt.Errorf("unsupported operator %q", p.Operator)
	}

	if err := uc.repo.CreatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create policy: %w", err)
	}

	uc.logger.Infow("sla policy created",
		"policy_id", p.ID,
		"metric", p.Metric,
		"operator", p.Operator,
		"threshold", p.Threshold)
	return p, nil
}

// SetPolicyEnabled enables or disables a policy without deleting its history.
func (uc *SLAUseCase) SetPolicyEnabled(ctx context.Context, id int64, enabled bool) error {
	ok, err := uc.repo.SetPolicyEnabled(ctx, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if !ok {
		return fmt.Errorf("policy %d not found", id)
	}
	uc.logger.Infow("sla policy toggled", "policy_id", id, "enabled", enabled)
	return nil
}

// AcknowledgeAlert marks an open alert acknowledged by the operator.
func (uc *SLAUseCase) AcknowledgeAlert(ctx context.Context, id int64, actor string) error {
	ok, err := uc.repo.AcknowledgeAlert(ctx, id, actor)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if !ok {
		return ErrAlertNotActionable(id)
	}
	uc.logger.Infow("alert acknowledged", "alert_id", id, "actor", actor)
	return nil
}

// ResolveAlert marks an open or acknowledged alert resolved. Alerts never
// auto-resolve: a later non-breaching evaluation leaves the alert open.
func (uc *SLAUseCase) ResolveAlert(ctx context.Context, id int64, actor string) error {
	ok, err := uc.repo.ResolveAlert(ctx, id, actor)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if !ok {
		return ErrAlertNotActionable(id)
	}
	uc.logger.Infow("alert resolved", "alert_id", id, "actor", actor)
	return nil
}

func (uc *SLAUseCase) queryTimeout() time.Duration {
	if uc.cfg.QueryTimeout > 0 {
		return uc.cfg.QueryTimeout
	}
	return 3 * time.Second
}

// BuildQuery derives the metrics expression for a policy. Labels for empty
// scope fields are omitted.
func BuildQuery(p *SLAPolicy) string {
	labels := make([]string, 0, 4)
	if p.ConnectorScope != "" {
		labels = append(labels, fmt.Sprintf("connector=%q", p.ConnectorScope))
	}
	if p.Rail != "" {
		labels = append(labels, fmt.Sprintf("rail=%q", p.Rail))
	}
	if p.Country != "" {
		labels = append(labels, fmt.Sprintf("country=%q", p.Country))
	}
	if p.Currency != "" {
		labels = append(labels, fmt.Sprintf("currency=%q", p.Currency))
	}
	if len(labels) == 0 {
		return p.Metric
	}
	return fmt.Sprintf("%s{%s}", p.Metric, strings.Join(labels, ","))
}

// Breached compares an observed value against the policy threshold.
func Breached(observed float64, operator string, threshold float64) bool {
	switch operator {
	case ">=":
		return observed >= threshold
	case "<=":
		return observed <= threshold
	case ">":
		return observed > threshold
	case "<":
		return observed < threshold
	default:
		return false
	}
}
