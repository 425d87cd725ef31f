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
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *MockRoutingRepo, health *MockHealthRepo, breakerRepo *MockCircuitBreakerRepo) *RouterUseCase {
	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUseCase(breakerRepo, &captureNotifier{}, nopAudit{}, BreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
		ProbeTimeout:     30 * time.Second,
	}, logger)
	return NewRouterUseCase(repo, health, breaker, nopAudit{}, logger)
}

func eurProfiles() []*ConnectorProfile {
	return []*ConnectorProfile{
		{
			ConnectorID:  "stripe_eu",
			Region:       "eu-west",
			Currency:     "EUR",
			FlatFee:      1.50,
			PercentFee:   0.02,
			DelaySeconds: 3600,
			RiskScore:    0.10,
			Enabled:      true,
		},
		{
			ConnectorID:  "adyen_eu",
			Region:       "eu-west",
			Currency:     "EUR",
			FlatFee:      0.25,
			PercentFee:   0.008,
			DelaySeconds: 86400,
			RiskScore:    0.10,
			Enabled:      true,
		},
	}
}

func TestScore_FeeRiskAndDelay(t *testing.T) {
	p := &ConnectorProfile{
		FlatFee:      1.50,
		PercentFee:   0.02,
		DelaySeconds: 3600,
		RiskScore:    0.10,
	}
	// 1.50 + 2.00 + 10.00 + ln(2)*2
	assert.InDelta(t, 14.8863, Score(p, 100), 0.001)

	instant := &ConnectorProfile{
		FlatFee:      0.40,
		PercentFee:   0.005,
		DelaySeconds: 0,
		RiskScore:    0.02,
	}
	assert.InDelta(t, 3.65, Score(instant, 250), 0.0001)
}

func TestScore_CheapDelayBeatsCheapFees(t *testing.T) {
	// High-percent-fee instant rails can still lose to a slow cheap rail and
	// vice versa; for a 1000 unit amount the low-risk fast connector wins.
	slow := &ConnectorProfile{FlatFee: 1, PercentFee: 0.003, DelaySeconds: 3600, RiskScore: 0.10}
	fast := &ConnectorProfile{FlatFee: 5, PercentFee: 0.001, DelaySeconds: 300, RiskScore: 0.05}

	slowScore := Score(slow, 1000)
	fastScore := Score(fast, 1000)
	assert.InDelta(t, 15.386, slowScore, 0.01)
	assert.Less(t, fastScore, slowScore)
}

func TestSelectRoute_LowestScoreWins(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)
	mockBreaker.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockHealth.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockRepo.On("SaveDecision", ctx, mock.AnythingOfType("*biz.RoutingDecision")).Return(nil)

	decision, err := uc.SelectRoute(ctx, &RouteRequest{
		PayoutID: "pay_001",
		Amount:   100,
		Currency: "EUR",
	})
	require.NoError(t, err)

	// stripe_eu at ~14.89 beats adyen_eu at ~17.49 despite the higher fees,
	// because adyen's one-day settlement delay costs more than the saving.
	assert.Equal(t, "stripe_eu", decision.ChosenConnectorID)
	assert.Equal(t, ReasonBestScore, decision.Reason)
	require.Len(t, decision.Candidates, 2)
	assert.Equal(t, "stripe_eu", decision.Candidates[0].ConnectorID)
	assert.InDelta(t, 14.8863, decision.Candidates[0].Score, 0.001)
	assert.Equal(t, "adyen_eu", decision.Candidates[1].ConnectorID)
	assert.InDelta(t, 17.4878, decision.Candidates[1].Score, 0.001)
	mockRepo.AssertExpectations(t)
}

func TestSelectRoute_AdjustmentFlipsWinner(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	adjustments := []*RoutingAdjustment{
		{ID: 1, Scope: "adyen_eu", Weight: 0.5, ExpiresAt: time.Now().Add(time.Hour)},
	}
	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return(adjustments, nil)
	mockBreaker.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockHealth.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockRepo.On("SaveDecision", ctx, mock.AnythingOfType("*biz.RoutingDecision")).Return(nil)

	decision, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_002", Amount: 100, Currency: "EUR"})
	require.NoError(t, err)

	// The 0.5 multiplier halves adyen's score to ~8.74, below stripe's base.
	assert.Equal(t, "adyen_eu", decision.ChosenConnectorID)
	assert.InDelta(t, 8.7439, decision.Candidates[0].Score, 0.001)
	assert.InDelta(t, 17.4878, decision.Candidates[0].BaseScore, 0.001)
}

func TestSelectRoute_BiasAppliedAdditively(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	adjustments := []*RoutingAdjustment{
		{ID: 2, Scope: "adyen_eu", Weight: 1, Bias: -5, ExpiresAt: time.Now().Add(time.Hour)},
	}
	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return(adjustments, nil)
	mockBreaker.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockHealth.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockRepo.On("SaveDecision", ctx, mock.AnythingOfType("*biz.RoutingDecision")).Return(nil)

	decision, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_006", Amount: 100, Currency: "EUR"})
	require.NoError(t, err)

	// The -5 bias drops adyen to ~12.49, below stripe's ~14.89 base.
	assert.Equal(t, "adyen_eu", decision.ChosenConnectorID)
	assert.InDelta(t, 12.4878, decision.Candidates[0].Score, 0.001)
	assert.InDelta(t, 17.4878, decision.Candidates[0].BaseScore, 0.001)
}

func TestSelectRoute_OpenBreakerExcluded(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	stripeKey := model.ConnectorKey{ConnectorID: "stripe_eu", Region: "eu-west", Currency: "EUR"}
	adyenKey := model.ConnectorKey{ConnectorID: "adyen_eu", Region: "eu-west", Currency: "EUR"}
	openedAt := time.Now().Add(-5 * time.Second)

	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)
	mockBreaker.On("Get", ctx, stripeKey).Return(&BreakerState{Key: stripeKey, State: BreakerOpen, OpenedAt: &openedAt}, nil)
	mockBreaker.On("Get", ctx, adyenKey).Return(nil, nil)
	mockHealth.On("Get", ctx, adyenKey).Return(nil, nil)
	mockRepo.On("SaveDecision", ctx, mock.AnythingOfType("*biz.RoutingDecision")).Return(nil)

	decision, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_003", Amount: 100, Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, "adyen_eu", decision.ChosenConnectorID)
	require.Len(t, decision.Candidates, 1)
}

func TestSelectRoute_NoEligibleConnectors(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	openedAt := time.Now().Add(-5 * time.Second)
	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)
	mockBreaker.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).
		Return(&BreakerState{State: BreakerOpen, OpenedAt: &openedAt}, nil)

	_, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_004", Amount: 100, Currency: "EUR"})
	assert.Error(t, err)
	assert.Equal(t, "NO_ROUTES_AVAILABLE", kratoserrors.Reason(err))
	assert.Equal(t, 503, kratoserrors.Code(err))
	mockRepo.AssertNotCalled(t, "SaveDecision", mock.Anything, mock.Anything)
}

func TestSelectRoute_NoProfilesForCurrency(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	mockRepo.On("ListProfiles", ctx, "XOF").Return([]*ConnectorProfile{}, nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)

	_, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_005", Amount: 100, Currency: "XOF"})
	assert.Error(t, err)
	assert.Equal(t, "NO_ROUTES_AVAILABLE", kratoserrors.Reason(err))
}

func TestSelectRoute_AllProbeSlotsTaken(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	// Both breakers are half-open and both trial slots are already claimed:
	// candidates exist but none can be admitted.
	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)
	mockBreaker.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).
		Return(&BreakerState{State: BreakerHalfOpen}, nil)
	mockBreaker.On("ClaimProbe", ctx, mock.AnythingOfType("model.ConnectorKey"), 30*time.Second).Return(false, nil)
	mockHealth.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)

	_, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_006", Amount: 100, Currency: "EUR"})
	assert.Error(t, err)
	assert.Equal(t, "CIRCUIT_OPEN", kratoserrors.Reason(err))
	mockRepo.AssertNotCalled(t, "SaveDecision", mock.Anything, mock.Anything)
}

func TestSelectRoute_HalfOpenWinnerMarkedProbe(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	mockHealth := new(MockHealthRepo)
	mockBreaker := new(MockCircuitBreakerRepo)
	uc := newTestRouter(mockRepo, mockHealth, mockBreaker)
	ctx := context.Background()

	stripeKey := model.ConnectorKey{ConnectorID: "stripe_eu", Region: "eu-west", Currency: "EUR"}
	adyenKey := model.ConnectorKey{ConnectorID: "adyen_eu", Region: "eu-west", Currency: "EUR"}

	mockRepo.On("ListProfiles", ctx, "EUR").Return(eurProfiles(), nil)
	mockRepo.On("ActiveAdjustments", ctx, mock.AnythingOfType("time.Time")).Return([]*RoutingAdjustment{}, nil)
	mockBreaker.On("Get", ctx, stripeKey).Return(&BreakerState{Key: stripeKey, State: BreakerHalfOpen}, nil)
	mockBreaker.On("Get", ctx, adyenKey).Return(nil, nil)
	mockBreaker.On("ClaimProbe", ctx, stripeKey, 30*time.Second).Return(true, nil)
	mockBreaker.On("IncrementProbeCount", ctx, stripeKey).Return(1, nil)
	mockHealth.On("Get", ctx, mock.AnythingOfType("model.ConnectorKey")).Return(nil, nil)
	mockRepo.On("SaveDecision", ctx, mock.AnythingOfType("*biz.RoutingDecision")).Return(nil)

	decision, err := uc.SelectRoute(ctx, &RouteRequest{PayoutID: "pay_007", Amount: 100, Currency: "EUR"})
	require.NoError(t, err)

	assert.Equal(t, "stripe_eu", decision.ChosenConnectorID)
	assert.True(t, decision.Candidates[0].Probe)
}

func TestOverrideRoute_Success(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	original := &RoutingDecision{ID: 42, ChosenConnectorID: "stripe_eu", Reason: ReasonBestScore}
	patched := &RoutingDecision{ID: 42, ChosenConnectorID: "adyen_eu", Reason: ReasonManualOverride, OverriddenBy: "ops@firm"}

	mockRepo.On("GetDecision", ctx, int64(42)).Return(original, nil).Once()
	mockRepo.On("OverrideDecision", ctx, int64(42), "adyen_eu", ReasonManualOverride, "ops@firm").Return(true, nil)
	mockRepo.On("GetDecision", ctx, int64(42)).Return(patched, nil).Once()

	decision, err := uc.OverrideRoute(ctx, 42, "adyen_eu", "ops@firm")
	require.NoError(t, err)
	assert.Equal(t, "adyen_eu", decision.ChosenConnectorID)
	assert.Equal(t, ReasonManualOverride, decision.Reason)
	mockRepo.AssertExpectations(t)
}

func TestOverrideRoute_AlreadyOverridden(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	existing := &RoutingDecision{ID: 42, ChosenConnectorID: "adyen_eu", OverriddenBy: "ops@firm"}
	mockRepo.On("GetDecision", ctx, int64(42)).Return(existing, nil)
	mockRepo.On("OverrideDecision", ctx, int64(42), "wise_uk", ReasonManualOverride, "ops2@firm").Return(false, nil)

	_, err := uc.OverrideRoute(ctx, 42, "wise_uk", "ops2@firm")
	assert.Error(t, err)
	assert.Equal(t, "DECISION_ALREADY_OVERRIDDEN", kratoserrors.Reason(err))
	assert.Equal(t, 409, kratoserrors.Code(err))
}

func TestOverrideRoute_DecisionNotFound(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	mockRepo.On("GetDecision", ctx, int64(99)).Return(nil, nil)

	_, err := uc.OverrideRoute(ctx, 99, "adyen_eu", "ops@firm")
	assert.Error(t, err)
	assert.Equal(t, "DECISION_NOT_FOUND", kratoserrors.Reason(err))
	assert.Equal(t, 404, kratoserrors.Code(err))
}

func TestCreateAdjustment_Validation(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	_, err := uc.CreateAdjustment(ctx, &RoutingAdjustment{Weight: 0.5, ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorContains(t, err, "scope is required")

	_, err = uc.CreateAdjustment(ctx, &RoutingAdjustment{Scope: "adyen_eu", Weight: -1, ExpiresAt: time.Now().Add(time.Hour)})
	assert.ErrorContains(t, err, "weight must be positive")

	_, err = uc.CreateAdjustment(ctx, &RoutingAdjustment{Scope: "adyen_eu", Weight: 0.5, ExpiresAt: time.Now().Add(-time.Hour)})
	assert.ErrorContains(t, err, "expire in the future")

	mockRepo.AssertNotCalled(t, "CreateAdjustment", mock.Anything, mock.Anything)
}

func TestCreateAdjustment_Success(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	mockRepo.On("CreateAdjustment", ctx, mock.AnythingOfType("*biz.RoutingAdjustment")).Return(nil)

	adj, err := uc.CreateAdjustment(ctx, &RoutingAdjustment{
		Scope:     "adyen_eu",
		Weight:    0.5,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedBy: "ops@firm",
	})
	require.NoError(t, err)
	assert.Equal(t, "adyen_eu", adj.Scope)
	mockRepo.AssertExpectations(t)
}

func TestCreateAdjustment_BiasOnlyDefaultsWeight(t *testing.T) {
	mockRepo := new(MockRoutingRepo)
	uc := newTestRouter(mockRepo, new(MockHealthRepo), new(MockCircuitBreakerRepo))
	ctx := context.Background()

	mockRepo.On("CreateAdjustment", ctx, mock.AnythingOfType("*biz.RoutingAdjustment")).Return(nil)

	adj, err := uc.CreateAdjustment(ctx, &RoutingAdjustment{
		Scope:     "adyen_eu",
		Bias:      -5,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedBy: "ops@firm",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, adj.Weight)
	assert.Equal(t, -5.0, adj.Bias)
}
