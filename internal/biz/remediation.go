package biz

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// Remediation action types.
const (
	ActionPauseConnector = "pause_connector"
	ActionRequestReroute = "request_reroute"
	ActionCreateTicket   = "create_ticket"
	ActionNotify         = "notify"
)

// RemediationAction is one cooldown-gated action bound to an SLA policy.
type RemediationAction struct {
	ID              int64
	PolicyID        int64
	ActionType      string
	Params          map[string]string
	CooldownSeconds int
	LastExecutedAt  *time.Time
	Enabled         bool
}

// RemediationRepo persists remediation actions.
type RemediationRepo interface {
	// ListEnabledActions returns the enabled actions attached to a policy.
	ListEnabledActions(ctx context.Context, policyID int64) ([]*RemediationAction, error)

	// MarkExecuted stamps last_executed_at. Called only after a successful
	// execution: a failed action does not consume its cooldown.
	MarkExecuted(ctx context.Context, actionID int64, at time.Time) error
}

// ConnectorPauser force-opens the breaker for a connector.
type ConnectorPauser interface {
	ForceOpen(ctx context.Context, key model.ConnectorKey, reason string) error
}

// RerouteRequester asks the failover orchestrator for an automatic switch
// away from a degraded connector.
type RerouteRequester interface {
	RequestReroute(ctx context.Context, key model.ConnectorKey, rationale string) error
}

// RemediationUseCase executes the actions attached to a breached policy,
// skipping any still inside their cooldown window.
type RemediationUseCase struct {
	repo     RemediationRepo
	breaker  ConnectorPauser
	failover RerouteRequester
	notifier Notifier
	audit    AuditLogger
	logger   *log.Helper
}

// NewRemediationUseCase creates an auto-remediation dispatcher.
func NewRemediationUseCase(repo RemediationRepo, breaker ConnectorPauser, failover RerouteRequester, notifier Notifier, audit AuditLogger, logger log.Logger) *RemediationUseCase {
	return &RemediationUseCase{
		repo:     repo,
		breaker:  breaker,
		failover: failover,
		notifier: notifier,
		audit:    audit,
		logger:   log.NewHelper(logger),
	}
}

// RunActions executes every enabled action of the policy for the given alert.
// Cooldown skips and execution failures are logged and audited, never
// returned: the evaluator tick must keep moving.
func (uc *RemediationUseCase) RunActions(ctx context.Context, policyID, alertID int64) {
	actions, err := uc.repo.ListEnabledActions(ctx, policyID)
	if err != nil {
		uc.logger.Errorw("failed to list remediation actions",
			"policy_id", policyID,
			"alert_id", alertID,
			"error", err)
		return
	}

	now := time.Now()
	for _, action := range actions {
		if within, until := inCooldown(action, now); within {
			uc.logger.Infow("remediation skipped, cooldown active",
				"policy_id", policyID,
				"alert_id", alertID,
				"action_id", action.ID,
				"action_type", action.ActionType,
				"retry_after", until)
			uc.audit.LogRemediation(ctx, policyID, alertID, action.ActionType, "skipped_cooldown")
			continue
		}

		if err := uc.execute(ctx, action, alertID); err != nil {
			// The cooldown stamp is not advanced: the action may fire again
			// on the next breaching evaluation.
			uc.logger.Errorw("remediation action failed",
				"policy_id", policyID,
				"alert_id", alertID,
				"action_id", action.ID,
				"action_type", action.ActionType,
				"error", err)
			uc.audit.LogRemediation(ctx, policyID, alertID, action.ActionType, "failed")
			continue
		}

		if err := uc.repo.MarkExecuted(ctx, action.ID, now); err != nil {
			uc.logger.Warnw("failed to stamp remediation cooldown",
				"action_id", action.ID,
				"error", err)
		}

		uc.logger.Infow("remediation action executed",
			"policy_id", policyID,
			"alert_id", alertID,
			"action_id", action.ID,
			"action_type", action.ActionType)
		uc.audit.LogRemediation(ctx, policyID, alertID, action.ActionType, "executed")
	}
}

// execute dispatches one action by type.
func (uc *RemediationUseCase) execute(ctx context.Context, action *RemediationAction, alertID int64) error {
	switch action.ActionType {
	case ActionPauseConnector:
		key, err := connectorKeyFromParams(action.Params)
		if err != nil {
			return err
		}
		return uc.breaker.ForceOpen(ctx, key, fmt.Sprintf("remediation for alert %d", alertID))

	case ActionRequestReroute:
		key, err := connectorKeyFromParams(action.Params)
		if err != nil {
			return err
		}
		return uc.failover.RequestReroute(ctx, key,
			fmt.Sprintf("auto-remediation: policy %d alert %d", action.PolicyID, alertID))

	case ActionCreateTicket:
		return uc.notifier.Publish(ctx, NotifyScopeTicketing, "remediation.ticket", map[string]any{
			"policy_id": action.PolicyID,
			"alert_id":  alertID,
			"params":    action.Params,
		})

	case ActionNotify:
		return uc.notifier.Publish(ctx, NotifyScopeOps, "remediation.notify", map[string]any{
			"policy_id": action.PolicyID,
			"alert_id":  alertID,
			"params":    action.Params,
		})

	default:
		return fmt.Errorf("unknown remediation action type %q", action.ActionType)
	}
}

// inCooldown reports whether the action is still inside its cooldown window
// and, if so, when it becomes eligible again.
func inCooldown(action *RemediationAction, now time.Time) (bool, time.Time) {
	if action.LastExecutedAt == nil || action.CooldownSeconds <= 0 {
		return false, time.Time{}
	}
	until := action.LastExecutedAt.Add(time.Duration(action.CooldownSeconds) * time.Second)
	return now.Before(until), until
}

// connectorKeyFromParams extracts the scoped connector key from action params.
func connectorKeyFromParams(params map[string]string) (model.ConnectorKey, error) {
	key := model.ConnectorKey{
		ConnectorID: params["connector_id"],
		Region:      params["region"],
		Currency:    params["currency"],
	}
	if key.ConnectorID == "" {
		return model.ConnectorKey{}, fmt.Errorf("action params missing connector_id")
	}
	return key, nil
}
