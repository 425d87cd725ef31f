package biz

import (
	"context"
	"sync"
	"time"

	"RouteGuard/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockCircuitBreakerRepo is a mock implementation of CircuitBreakerRepo.
type MockCircuitBreakerRepo struct {
	mock.Mock
}

func (m *MockCircuitBreakerRepo) Get(ctx context.Context, key model.ConnectorKey) (*BreakerState, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BreakerState), args.Error(1)
}

func (m *MockCircuitBreakerRepo) Create(ctx context.Context, key model.ConnectorKey, failureCount int) error {
	args := m.Called(ctx, key, failureCount)
	return args.Error(0)
}

func (m *MockCircuitBreakerRepo) IncrementFailure(ctx context.Context, key model.ConnectorKey) (int, error) {
	args := m.Called(ctx, key)
	return args.Int(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) ResetFailures(ctx context.Context, key model.ConnectorKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCircuitBreakerRepo) TripOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error) {
	args := m.Called(ctx, key, openedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) MoveHalfOpen(ctx context.Context, key model.ConnectorKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) CloseBreaker(ctx context.Context, key model.ConnectorKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) Reopen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error) {
	args := m.Called(ctx, key, openedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) ForceOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) error {
	args := m.Called(ctx, key, openedAt)
	return args.Error(0)
}

func (m *MockCircuitBreakerRepo) ClaimProbe(ctx context.Context, key model.ConnectorKey, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockCircuitBreakerRepo) ReleaseProbe(ctx context.Context, key model.ConnectorKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockCircuitBreakerRepo) IncrementProbeCount(ctx context.Context, key model.ConnectorKey) (int, error) {
	args := m.Called(ctx, key)
	return args.Int(0), args.Error(1)
}

// MockHealthRepo is a mock implementation of HealthRepo.
type MockHealthRepo struct {
	mock.Mock
}

func (m *MockHealthRepo) Upsert(ctx context.Context, snap *model.HealthSnapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockHealthRepo) Get(ctx context.Context, key model.ConnectorKey) (*model.HealthSnapshot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HealthSnapshot), args.Error(1)
}

func (m *MockHealthRepo) ListRecent(ctx context.Context, since time.Time) ([]*model.HealthSnapshot, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.HealthSnapshot), args.Error(1)
}

func (m *MockHealthRepo) FindAlternative(ctx context.Context, key model.ConnectorKey) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

// MockRoutingRepo is a mock implementation of RoutingRepo.
type MockRoutingRepo struct {
	mock.Mock
}

func (m *MockRoutingRepo) ListProfiles(ctx context.Context, currency string) ([]*ConnectorProfile, error) {
	args := m.Called(ctx, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ConnectorProfile), args.Error(1)
}

func (m *MockRoutingRepo) UpsertProfile(ctx context.Context, p *ConnectorProfile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockRoutingRepo) ActiveAdjustments(ctx context.Context, now time.Time) ([]*RoutingAdjustment, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RoutingAdjustment), args.Error(1)
}

func (m *MockRoutingRepo) CreateAdjustment(ctx context.Context, adj *RoutingAdjustment) error {
	args := m.Called(ctx, adj)
	return args.Error(0)
}

func (m *MockRoutingRepo) ListAdjustments(ctx context.Context, includeExpired bool) ([]*RoutingAdjustment, error) {
	args := m.Called(ctx, includeExpired)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RoutingAdjustment), args.Error(1)
}

func (m *MockRoutingRepo) RevokeAdjustment(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRoutingRepo) SaveDecision(ctx context.Context, d *RoutingDecision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockRoutingRepo) GetDecision(ctx context.Context, id int64) (*RoutingDecision, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RoutingDecision), args.Error(1)
}

func (m *MockRoutingRepo) OverrideDecision(ctx context.Context, id int64, connectorID, reason, actor string) (bool, error) {
	args := m.Called(ctx, id, connectorID, reason, actor)
	return args.Bool(0), args.Error(1)
}

// MockSLARepo is a mock implementation of SLARepo.
type MockSLARepo struct {
	mock.Mock
}

func (m *MockSLARepo) ListEnabledPolicies(ctx context.Context) ([]*SLAPolicy, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SLAPolicy), args.Error(1)
}

func (m *MockSLARepo) GetPolicy(ctx context.Context, id int64) (*SLAPolicy, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SLAPolicy), args.Error(1)
}

func (m *MockSLARepo) CreatePolicy(ctx context.Context, p *SLAPolicy) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockSLARepo) SetPolicyEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	args := m.Called(ctx, id, enabled)
	return args.Bool(0), args.Error(1)
}

func (m *MockSLARepo) CreateOpenAlert(ctx context.Context, alert *SLAAlert) (bool, error) {
	args := m.Called(ctx, alert)
	return args.Bool(0), args.Error(1)
}

func (m *MockSLARepo) AcknowledgeAlert(ctx context.Context, id int64, actor string) (bool, error) {
	args := m.Called(ctx, id, actor)
	return args.Bool(0), args.Error(1)
}

func (m *MockSLARepo) ResolveAlert(ctx context.Context, id int64, actor string) (bool, error) {
	args := m.Called(ctx, id, actor)
	return args.Bool(0), args.Error(1)
}

// MockMetricsSource is a mock implementation of MetricsSource.
type MockMetricsSource struct {
	mock.Mock
}

func (m *MockMetricsSource) QueryScalar(ctx context.Context, expr string) (float64, bool, error) {
	args := m.Called(ctx, expr)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

// MockRemediationRunner is a mock implementation of RemediationRunner.
type MockRemediationRunner struct {
	mock.Mock
}

func (m *MockRemediationRunner) RunActions(ctx context.Context, policyID, alertID int64) {
	m.Called(ctx, policyID, alertID)
}

// MockRemediationRepo is a mock implementation of RemediationRepo.
type MockRemediationRepo struct {
	mock.Mock
}

func (m *MockRemediationRepo) ListEnabledActions(ctx context.Context, policyID int64) ([]*RemediationAction, error) {
	args := m.Called(ctx, policyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RemediationAction), args.Error(1)
}

func (m *MockRemediationRepo) MarkExecuted(ctx context.Context, actionID int64, at time.Time) error {
	args := m.Called(ctx, actionID, at)
	return args.Error(0)
}

// MockConnectorPauser is a mock implementation of ConnectorPauser.
type MockConnectorPauser struct {
	mock.Mock
}

func (m *MockConnectorPauser) ForceOpen(ctx context.Context, key model.ConnectorKey, reason string) error {
	args := m.Called(ctx, key, reason)
	return args.Error(0)
}

// MockRerouteRequester is a mock implementation of RerouteRequester.
type MockRerouteRequester struct {
	mock.Mock
}

func (m *MockRerouteRequester) RequestReroute(ctx context.Context, key model.ConnectorKey, rationale string) error {
	args := m.Called(ctx, key, rationale)
	return args.Error(0)
}

// MockFailureRecorder is a mock implementation of FailureRecorder.
type MockFailureRecorder struct {
	mock.Mock
}

func (m *MockFailureRecorder) RecordFailure(ctx context.Context, key model.ConnectorKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockFailoverRepo is a mock implementation of FailoverRepo.
type MockFailoverRepo struct {
	mock.Mock
}

func (m *MockFailoverRepo) Create(ctx context.Context, a *FailoverAction) (bool, error) {
	args := m.Called(ctx, a)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverRepo) Get(ctx context.Context, id int64) (*FailoverAction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FailoverAction), args.Error(1)
}

func (m *MockFailoverRepo) GetByRef(ctx context.Context, ref string) (*FailoverAction, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FailoverAction), args.Error(1)
}

func (m *MockFailoverRepo) Approve(ctx context.Context, id int64, approver string) (bool, error) {
	args := m.Called(ctx, id, approver)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverRepo) MarkExecuting(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverRepo) MarkTerminal(ctx context.Context, id int64, status string) (bool, error) {
	args := m.Called(ctx, id, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverRepo) Cancel(ctx context.Context, id int64, actor string) (bool, error) {
	args := m.Called(ctx, id, actor)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverRepo) AppendHistory(ctx context.Context, actionID int64, step, details string) error {
	args := m.Called(ctx, actionID, step, details)
	return args.Error(0)
}

func (m *MockFailoverRepo) History(ctx context.Context, actionID int64) ([]*FailoverHistoryEntry, error) {
	args := m.Called(ctx, actionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*FailoverHistoryEntry), args.Error(1)
}

func (m *MockFailoverRepo) ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error) {
	args := m.Called(ctx, connectorFrom, since)
	return args.Bool(0), args.Error(1)
}

// MockFailoverProposer is a mock implementation of FailoverProposer.
type MockFailoverProposer struct {
	mock.Mock
}

func (m *MockFailoverProposer) Propose(ctx context.Context, req *ProposeRequest) (*FailoverAction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*FailoverAction), args.Error(1)
}

func (m *MockFailoverProposer) ExecutedSince(ctx context.Context, connectorFrom string, since time.Time) (bool, error) {
	args := m.Called(ctx, connectorFrom, since)
	return args.Bool(0), args.Error(1)
}

func (m *MockFailoverProposer) ExecuteAsync(id int64) {
	m.Called(id)
}

// publishedEvent is one captured Notifier.Publish call.
type publishedEvent struct {
	Scope   string
	Event   string
	Payload any
}

// captureNotifier records every published event for assertions.
type captureNotifier struct {
	mu     sync.Mutex
	err    error
	events []publishedEvent
}

func (n *captureNotifier) Publish(ctx context.Context, scope, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{Scope: scope, Event: event, Payload: payload})
	return n.err
}

func (n *captureNotifier) published() []publishedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]publishedEvent, len(n.events))
	copy(out, n.events)
	return out
}

// nopAudit discards all audit entries.
type nopAudit struct{}

func (nopAudit) LogHealthTransition(context.Context, model.ConnectorKey, string, string) {}

func (nopAudit) LogCircuitTripped(context.Context, model.ConnectorKey, int, time.Time) {}

func (nopAudit) LogCircuitRecovered(context.Context, model.ConnectorKey, time.Duration, int) {}

func (nopAudit) LogRouteSelected(context.Context, int64, string, float64, int) {}

func (nopAudit) LogRouteOverridden(context.Context, int64, string, string) {}

func (nopAudit) LogAlertRaised(context.Context, int64, int64, string, float64, float64) {}

func (nopAudit) LogRemediation(context.Context, int64, int64, string, string) {}

func (nopAudit) LogAnomaly(context.Context, model.ConnectorKey, string, float64, string) {}

func (nopAudit) LogFailover(context.Context, int64, string, string, string) {}

// recordAudit captures LogRemediation results keyed by action type.
type recordAudit struct {
	nopAudit
	mu      sync.Mutex
	results map[string]string
}

func (a *recordAudit) LogRemediation(_ context.Context, _, _ int64, actionType, result string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.results == nil {
		a.results = make(map[string]string)
	}
	a.results[actionType] = result
}

func (a *recordAudit) result(actionType string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.results[actionType]
}
