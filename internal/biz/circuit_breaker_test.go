package biz

import (
	"context"
	"os"
	"testing"
	"time"

	"RouteGuard/internal/model"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var testKey = model.ConnectorKey{ConnectorID: "stripe_eu", Region: "eu-west", Currency: "EUR"}

func newTestBreaker(repo *MockCircuitBreakerRepo, notifier Notifier) *CircuitBreakerUseCase {
	if notifier == nil {
		notifier = &captureNotifier{}
	}
	logger := log.NewStdLogger(os.Stdout)
	cfg := BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
		ProbeTimeout:     30 * time.Second,
	}
	return NewCircuitBreakerUseCase(repo, notifier, nopAudit{}, cfg, logger)
}

func TestRecordFailure_BelowThreshold(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerClosed, FailureCount: 1}, nil)
	mockRepo.On("IncrementFailure", ctx, testKey).Return(2, nil)

	err := uc.RecordFailure(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "TripOpen", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordFailure_TripsAtThreshold(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	notifier := &captureNotifier{}
	uc := newTestBreaker(mockRepo, notifier)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerClosed, FailureCount: 2}, nil)
	mockRepo.On("IncrementFailure", ctx, testKey).Return(3, nil)
	mockRepo.On("TripOpen", ctx, testKey, mock.AnythingOfType("time.Time")).Return(true, nil)

	err := uc.RecordFailure(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)

	events := notifier.published()
	if assert.Len(t, events, 1) {
		assert.Equal(t, NotifyScopeRouting, events[0].Scope)
		assert.Equal(t, "circuit.tripped", events[0].Event)
		tripped := events[0].Payload.(*model.CircuitTrippedEvent)
		assert.Equal(t, 3, tripped.FailureCount)
	}
}

func TestRecordFailure_ConcurrentTripLoses(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	notifier := &captureNotifier{}
	uc := newTestBreaker(mockRepo, notifier)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerClosed, FailureCount: 2}, nil)
	mockRepo.On("IncrementFailure", ctx, testKey).Return(3, nil)
	mockRepo.On("TripOpen", ctx, testKey, mock.AnythingOfType("time.Time")).Return(false, nil)

	err := uc.RecordFailure(ctx, testKey)
	assert.NoError(t, err)
	assert.Empty(t, notifier.published())
}

func TestRecordFailure_FirstFailureCreatesRow(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(nil, nil)
	mockRepo.On("Create", ctx, testKey, 1).Return(nil)

	err := uc.RecordFailure(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestRecordFailure_HalfOpenReopens(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerHalfOpen}, nil)
	mockRepo.On("Reopen", ctx, testKey, mock.AnythingOfType("time.Time")).Return(true, nil)
	mockRepo.On("ReleaseProbe", ctx, testKey).Return(nil)

	err := uc.RecordFailure(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestRecordSuccess_ClosedResetsFailures(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerClosed, FailureCount: 2}, nil)
	mockRepo.On("ResetFailures", ctx, testKey).Return(nil)

	err := uc.RecordSuccess(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestRecordSuccess_HalfOpenProbeClosesBreaker(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	notifier := &captureNotifier{}
	uc := newTestBreaker(mockRepo, notifier)
	ctx := context.Background()

	openedAt := time.Now().Add(-90 * time.Second)
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{
		Key:      testKey,
		State:    BreakerHalfOpen,
		OpenedAt: &openedAt,
	}, nil)
	mockRepo.On("CloseBreaker", ctx, testKey).Return(true, nil)
	mockRepo.On("ReleaseProbe", ctx, testKey).Return(nil)

	err := uc.RecordSuccess(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)

	events := notifier.published()
	if assert.Len(t, events, 1) {
		assert.Equal(t, "circuit.recovered", events[0].Event)
		recovered := events[0].Payload.(*model.CircuitRecoveredEvent)
		assert.GreaterOrEqual(t, recovered.OpenFor, 90*time.Second)
	}
}

func TestRecordSuccess_OpenBreakerIgnored(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	openedAt := time.Now()
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)

	err := uc.RecordSuccess(ctx, testKey)
	assert.NoError(t, err)
	mockRepo.AssertNotCalled(t, "CloseBreaker", mock.Anything, mock.Anything)
}

func TestEligible_OpenWithinResetTimeout(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	openedAt := time.Now().Add(-10 * time.Second)
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)

	eligible, err := uc.Eligible(ctx, testKey)
	assert.NoError(t, err)
	assert.False(t, eligible)
}

func TestEligible_OpenPastResetTimeout(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	openedAt := time.Now().Add(-2 * time.Minute)
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)

	eligible, err := uc.Eligible(ctx, testKey)
	assert.NoError(t, err)
	assert.True(t, eligible)
}

func TestEligible_NoRow(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(nil, nil)

	eligible, err := uc.Eligible(ctx, testKey)
	assert.NoError(t, err)
	assert.True(t, eligible)
}

func TestAdmit_Closed(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerClosed}, nil)

	adm, err := uc.Admit(ctx, testKey)
	assert.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.False(t, adm.Probe)
}

func TestAdmit_OpenWithinResetTimeout(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	openedAt := time.Now().Add(-5 * time.Second)
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)

	_, err := uc.Admit(ctx, testKey)
	assert.Error(t, err)
	assert.Equal(t, "CIRCUIT_OPEN", kratoserrors.Reason(err))
	assert.Equal(t, 503, kratoserrors.Code(err))
}

func TestAdmit_OpenPastResetTimeoutWinsProbe(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	openedAt := time.Now().Add(-2 * time.Minute)
	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)
	mockRepo.On("MoveHalfOpen", ctx, testKey).Return(true, nil)
	mockRepo.On("ClaimProbe", ctx, testKey, 30*time.Second).Return(true, nil)
	mockRepo.On("IncrementProbeCount", ctx, testKey).Return(1, nil)

	adm, err := uc.Admit(ctx, testKey)
	assert.NoError(t, err)
	assert.True(t, adm.Allowed)
	assert.True(t, adm.Probe)
	mockRepo.AssertExpectations(t)
}

func TestAdmit_HalfOpenProbeAlreadyClaimed(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	uc := newTestBreaker(mockRepo, nil)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(&BreakerState{Key: testKey, State: BreakerHalfOpen}, nil)
	mockRepo.On("ClaimProbe", ctx, testKey, 30*time.Second).Return(false, nil)

	_, err := uc.Admit(ctx, testKey)
	assert.Error(t, err)
	assert.Equal(t, "CIRCUIT_OPEN", kratoserrors.Reason(err))
}

func TestForceOpen_PublishesTripEvent(t *testing.T) {
	mockRepo := new(MockCircuitBreakerRepo)
	notifier := &captureNotifier{}
	uc := newTestBreaker(mockRepo, notifier)
	ctx := context.Background()

	mockRepo.On("ForceOpen", ctx, testKey, mock.AnythingOfType("time.Time")).Return(nil)

	err := uc.ForceOpen(ctx, testKey, "remediation for alert 7")
	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)

	events := notifier.published()
	if assert.Len(t, events, 1) {
		assert.Equal(t, "circuit.tripped", events[0].Event)
	}
}
