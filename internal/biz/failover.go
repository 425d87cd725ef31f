package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Failover action statuses.
const (
	FailoverPending   = "pending"
	FailoverExecuting = "executing"
	FailoverExecuted  = "executed"
	FailoverFailed    = "failed"
	FailoverCancelled = "cancelled"
)

// Failover history steps.
const (
	FailoverStepStart     = "start"
	FailoverStepExecuted  = "executed"
	FailoverStepFailed    = "failed"
	FailoverStepCancelled = "cancelled"
)

// Requester identities for automatic flows.
const (
	RequesterSiraAuto        = "sira_auto"
	RequesterAutoRemediation = "auto_remediation"
)

// Duration and weight of the traffic-steering adjustment created by a
// successful failover.
const (
	failoverSteerWeight = 0.5
	failoverSteerWindow = time.Hour
)

// FailoverAction is one reviewable or automatic connector switch.
type FailoverAction struct {
	ID            int64
	ActionRef     string
	ConnectorFrom string
	ConnectorTo   string
	Region        string
	Currency      string
	RequestedBy   string
	Rationale     string
	SiraScore     float64
	Status        string
	ApprovedBy    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FailoverHistoryEntry is one append-only step of an action's execution trail.
type FailoverHistoryEntry struct {
	ID        int64
	ActionID  int64
	Step      string
	Details   string
	CreatedAt time.Time
}

// FailoverRepo persists failover actions and their history. Status
// transitions are conditional updates; a false return means the guard did
// not match.
type FailoverRepo interface {
	// Create inserts a pending action unless its action_ref already exists,
	// in which case duplicate proposals collapse and false is returned.
	Create(ctx context.Context, a *FailoverAction) (bool, error)

	// Get returns the action by id, or (nil, nil) when absent.
	Get(ctx context.Context, id int64) (*FailoverAction, error)

	// GetByRef returns the action by action_ref, or (nil, nil) when absent.
	GetByRef(ctx context.Context, ref string) (*FailoverAction, error)

	// Approve stamps the approver. Applies only while status is pending.
	Approve(ctx context.Context, id int64, approver string) (bool, error)

	// MarkExecuting transitions pending -> executing.
	MarkExecuting(ctx context.Context, id int64) (bool, error)

	// MarkTerminal transitions executing -> executed/failed.
	MarkTerminal(ctx context.Context, id int64, status string) (bool, error)

	// Cancel transitions pending -> cancelled.
	Cancel(ctx context.Context, id int64, actor string) (bool, error)

	// AppendHistory appends one history entry for the action.
	AppendHistory(ctx context.Context, actionID int64, step, details string) error

	// History returns the action's history, oldest first.
	History(ctx context.Context, actionID int64) ([]*FailoverHistoryEntry, error)

	// ExecutedSince reports whether any action moving traffic off the given
	// connector reached a terminal state after the cutoff. Drives the
	// auto-failover cooldown.
	ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error)
}

// FailoverConfig tunes failover execution.
type FailoverConfig struct {
	// ExecuteTimeout bounds one asynchronous execution run.
	ExecuteTimeout time.Duration
}

// ProposeRequest is the input to a failover proposal.
type ProposeRequest struct {
	ActionRef     string
	ConnectorFrom string
	ConnectorTo   string
	Region        string
	Currency      string
	RequestedBy   string
	Rationale     string
	SiraScore     float64
}

// ErrIdempotencyViolation signals a double-execute of a non-pending action.
func ErrIdempotencyViolation(id int64, status string) *errors.Error {
	return errors.New(409, "IDEMPOTENCY_VIOLATION",
		fmt.Sprintf("failover action %d is %s, not pending", id, status))
}

// ErrFailoverNotCancellable signals a cancel against a non-pending action.
func ErrFailoverNotCancellable(id int64) *errors.Error {
	return errors.New(409, "FAILOVER_NOT_CANCELLABLE",
		fmt.Sprintf("failover action %d is no longer pending", id))
}

// ErrFailoverNotFound signals an operation against an unknown action.
func ErrFailoverNotFound(id int64) *errors.Error {
	return errors.New(404, "FAILOVER_NOT_FOUND",
		fmt.Sprintf("failover action %d not found", id))
}

// FailoverUseCase turns an anomaly or alert into a connector switch.
// Automatic and manually approved requests converge on one execution path
// guarded by the pending -> executing transition.
type FailoverUseCase struct {
	repo     FailoverRepo
	routing  RoutingRepo
	health   HealthRepo
	breaker  ConnectorPauser
	registry *ConnectorRegistry
	notifier Notifier
	audit    AuditLogger
	cfg      FailoverConfig
	logger   *log.Helper
}

// NewFailoverUseCase creates a failover orchestrator.
func NewFailoverUseCase(repo FailoverRepo, routing RoutingRepo, health HealthRepo, breaker ConnectorPauser, registry *ConnectorRegistry, notifier Notifier, audit AuditLogger, cfg FailoverConfig, logger log.Logger) *FailoverUseCase {
	return &FailoverUseCase{
		repo:     repo,
		routing:  routing,
		health:   health,
		breaker:  breaker,
		registry: registry,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   log.NewHelper(logger),
	}
}

// Propose creates a pending failover action. Duplicate proposals with the
// same action_ref collapse to the existing action.
func (uc *FailoverUseCase) Propose(ctx context.Context, req *ProposeRequest) (*FailoverAction, error) {
	if req.ConnectorFrom == "" || req.ConnectorTo == "" {
		return nil, fmt.Errorf("failover requires both connector_from and connector_to")
	}
	if req.ConnectorFrom == req.ConnectorTo {
		return nil, fmt.Errorf("failover source and target must differ")
	}

	ref := req.ActionRef
	if ref == "" {
		ref = fmt.Sprintf("%s-%s-%s", req.RequestedBy,
			time.Now().UTC().Format("20060102150405"), req.ConnectorFrom)
	}

	action := &FailoverAction{
		ActionRef:     ref,
		ConnectorFrom: req.ConnectorFrom,
		ConnectorTo:   req.ConnectorTo,
		Region:        req.Region,
		Currency:      req.Currency,
		RequestedBy:   req.RequestedBy,
		Rationale:     req.Rationale,
		SiraScore:     req.SiraScore,
		Status:        FailoverPending,
	}

	created, err := uc.repo.Create(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("failed to create failover action: %w", err)
	}
	if !created {
		existing, err := uc.repo.GetByRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing failover action: %w", err)
		}
		uc.logger.Infow("failover proposal collapsed to existing action",
			"action_ref", ref,
			"action_id", existing.ID)
		return existing, nil
	}

	uc.logger.Infow("failover proposed",
		"action_id", action.ID,
		"action_ref", ref,
		"from", req.ConnectorFrom,
		"to", req.ConnectorTo,
		"requested_by", req.RequestedBy,
		"sira_score", req.SiraScore)
	uc.audit.LogFailover(ctx, action.ID, ref, FailoverPending, req.Rationale)

	return action, nil
}

// Approve marks a pending proposal approved and starts execution
// asynchronously.
func (uc *FailoverUseCase) Approve(ctx context.Context, id int64, approver string) error {
	ok, err := uc.repo.Approve(ctx, id, approver)
	if err != nil {
		return fmt.Errorf("failed to approve failover: %w", err)
	}
	if !ok {
		return uc.notPendingError(ctx, id)
	}

	uc.logger.Infow("failover approved", "action_id", id, "approver", approver)
	uc.ExecuteAsync(id)
	return nil
}

// ExecuteAsync runs Execute on its own goroutine. Execute bounds and
// detaches the context itself, so the run outlives the triggering request.
func (uc *FailoverUseCase) ExecuteAsync(id int64) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				uc.logger.Errorw("panic during failover execution", "action_id", id, "panic", r)
			}
		}()

		if err := uc.Execute(context.Background(), id); err != nil {
			uc.logger.Errorw("async failover execution failed", "action_id", id, "error", err)
		}
	}()
}

// Dispatch verifies the action can start and launches execution in the
// background. The status check here is advisory; the pending -> executing
// transition inside Execute remains the authoritative guard.
func (uc *FailoverUseCase) Dispatch(ctx context.Context, id int64) error {
	action, err := uc.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load failover action: %w", err)
	}
	if action == nil {
		return ErrFailoverNotFound(id)
	}
	if action.Status != FailoverPending {
		return ErrIdempotencyViolation(id, action.Status)
	}

	uc.ExecuteAsync(id)
	return nil
}

// Execute performs the connector switch exactly once. The pending ->
// executing transition is the idempotency guard: a second call observes a
// non-pending status and is rejected, not re-executed. Once the claim
// succeeds the run is detached from the caller's cancellation so the action
// always reaches a terminal state instead of stranding in executing.
func (uc *FailoverUseCase) Execute(ctx context.Context, id int64) error {
	ok, err := uc.repo.MarkExecuting(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to transition failover to executing: %w", err)
	}
	if !ok {
		return uc.notPendingError(ctx, id)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.executeTimeout())
	defer cancel()
	return uc.run(runCtx, id)
}

// run drives a claimed action to its terminal state.
func (uc *FailoverUseCase) run(ctx context.Context, id int64) error {
	action, err := uc.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load failover action: %w", err)
	}

	// Record intent before the side effect so a crash mid-execution leaves
	// an inspectable trail.
	startDetails, _ := json.Marshal(map[string]any{
		"from":   action.ConnectorFrom,
		"to":     action.ConnectorTo,
		"region": action.Region,
	})
	if err := uc.repo.AppendHistory(ctx, id, FailoverStepStart, string(startDetails)); err != nil {
		uc.logger.Warnw("failed to append start history", "action_id", id, "error", err)
	}

	execErr := uc.performSwitch(ctx, action)

	status := FailoverExecuted
	step := FailoverStepExecuted
	details := "connector switch completed"
	if execErr != nil {
		status = FailoverFailed
		step = FailoverStepFailed
		details = execErr.Error()
	}

	if _, err := uc.repo.MarkTerminal(ctx, id, status); err != nil {
		return fmt.Errorf("failed to finalize failover status: %w", err)
	}
	if err := uc.repo.AppendHistory(ctx, id, step, details); err != nil {
		uc.logger.Warnw("failed to append terminal history", "action_id", id, "error", err)
	}

	uc.logger.Infow("failover finished",
		"action_id", id,
		"action_ref", action.ActionRef,
		"status", status)
	uc.audit.LogFailover(ctx, id, action.ActionRef, status, details)

	if err := uc.notifier.Publish(ctx, NotifyScopeFailover, "failover."+status, &model.FailoverEvent{
		ActionID:      id,
		ActionRef:     action.ActionRef,
		ConnectorFrom: action.ConnectorFrom,
		ConnectorTo:   action.ConnectorTo,
		Region:        action.Region,
		Currency:      action.Currency,
		Status:        status,
	}); err != nil {
		uc.logger.Warnw("failed to publish failover event", "action_id", id, "error", err)
	}

	// Execution failures are terminal for this action; a retry requires a
	// new proposal.
	return execErr
}

// performSwitch applies the connector-switch side effect: the target must be
// a registered capability and accept a zero-amount trial, traffic off the
// source is stopped via the breaker, and an adjustment steers scoring toward
// the target.
func (uc *FailoverUseCase) performSwitch(ctx context.Context, action *FailoverAction) error {
	target, err := uc.registry.MustGet(action.ConnectorTo)
	if err != nil {
		return fmt.Errorf("failover target unavailable: %w", err)
	}

	// Confirm the target accepts traffic before any volume is steered onto
	// it. The trial carries no amount.
	outcome, err := target.Send(ctx, &ConnectorRequest{
		Reference: "verify-" + action.ActionRef,
		Currency:  action.Currency,
		Metadata:  map[string]string{"purpose": "failover_verification"},
	})
	if err != nil {
		return fmt.Errorf("failover target verification failed: %w", err)
	}
	if !outcome.Success {
		return fmt.Errorf("failover target declined verification: %s", outcome.Detail)
	}

	fromKey := model.ConnectorKey{
		ConnectorID: action.ConnectorFrom,
		Region:      action.Region,
		Currency:    action.Currency,
	}
	if err := uc.breaker.ForceOpen(ctx, fromKey, "failover "+action.ActionRef); err != nil {
		return fmt.Errorf("failed to pause source connector: %w", err)
	}

	adj := &RoutingAdjustment{
		Scope:     action.ConnectorTo,
		Weight:    failoverSteerWeight,
		ExpiresAt: time.Now().Add(failoverSteerWindow),
		CreatedBy: action.ActionRef,
	}
	if err := uc.routing.CreateAdjustment(ctx, adj); err != nil {
		return fmt.Errorf("failed to steer traffic to target: %w", err)
	}

	return nil
}

// Cancel administratively cancels an action, allowed only while pending.
// Once executing, the action runs to a terminal state since the external
// side effect may already be irreversible.
func (uc *FailoverUseCase) Cancel(ctx context.Context, id int64, actor string) error {
	ok, err := uc.repo.Cancel(ctx, id, actor)
	if err != nil {
		return fmt.Errorf("failed to cancel failover: %w", err)
	}
	if !ok {
		action, err := uc.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load failover action: %w", err)
		}
		if action == nil {
			return ErrFailoverNotFound(id)
		}
		return ErrFailoverNotCancellable(id)
	}

	if err := uc.repo.AppendHistory(ctx, id, FailoverStepCancelled, "cancelled by "+actor); err != nil {
		uc.logger.Warnw("failed to append cancel history", "action_id", id, "error", err)
	}
	uc.logger.Infow("failover cancelled", "action_id", id, "actor", actor)
	return nil
}

// Get returns the action by id.
func (uc *FailoverUseCase) Get(ctx context.Context, id int64) (*FailoverAction, error) {
	action, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrFailoverNotFound(id)
	}
	return action, nil
}

// History returns the append-only execution trail of an action.
func (uc *FailoverUseCase) History(ctx context.Context, id int64) ([]*FailoverHistoryEntry, error) {
	return uc.repo.History(ctx, id)
}

// ExecutedSince reports whether a failover off the connector completed after
// the cutoff; the anomaly detector uses it as a cooldown gate.
func (uc *FailoverUseCase) ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error) {
	return uc.repo.ExecutedSince(ctx, connectorFrom, since)
}

// RequestReroute proposes and immediately executes an automatic failover off
// the given connector toward its healthiest alternative.
func (uc *FailoverUseCase) RequestReroute(ctx context.Context, key model.ConnectorKey, rationale string) error {
	alternative, err := uc.health.FindAlternative(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to find alternative connector: %w", err)
	}
	if alternative == "" {
		return fmt.Errorf("no healthy alternative for connector %s", key)
	}

	action, err := uc.Propose(ctx, &ProposeRequest{
		ConnectorFrom: key.ConnectorID,
		ConnectorTo:   alternative,
		Region:        key.Region,
		Currency:      key.Currency,
		RequestedBy:   RequesterAutoRemediation,
		Rationale:     rationale,
	})
	if err != nil {
		return err
	}

	uc.ExecuteAsync(action.ID)
	return nil
}

// notPendingError maps a failed conditional transition to the taxonomy error.
func (uc *FailoverUseCase) notPendingError(ctx context.Context, id int64) error {
	action, err := uc.repo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load failover action: %w", err)
	}
	if action == nil {
		return ErrFailoverNotFound(id)
	}
	return ErrIdempotencyViolation(id, action.Status)
}

func (uc *FailoverUseCase) executeTimeout() time.Duration {
	if uc.cfg.ExecuteTimeout > 0 {
		return uc.cfg.ExecuteTimeout
	}
	return 5 * time.Minute
}
