package biz

import (
	"context"
	"os"
	"testing"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHealth(repo *MockHealthRepo, breaker *MockFailureRecorder) *HealthUseCase {
	return NewHealthUseCase(repo, breaker, nopAudit{}, log.NewStdLogger(os.Stdout))
}

func TestDeriveStatus_Thresholds(t *testing.T) {
	assert.Equal(t, model.HealthStatusHealthy, deriveStatus(1.0))
	assert.Equal(t, model.HealthStatusHealthy, deriveStatus(0.95))
	assert.Equal(t, model.HealthStatusDegraded, deriveStatus(0.94))
	assert.Equal(t, model.HealthStatusDegraded, deriveStatus(0.80))
	assert.Equal(t, model.HealthStatusDown, deriveStatus(0.79))
	assert.Equal(t, model.HealthStatusDown, deriveStatus(0))
}

func TestReportHealth_DerivesStatusWhenOmitted(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	mockBreaker := new(MockFailureRecorder)
	uc := newTestHealth(mockRepo, mockBreaker)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(nil, nil)
	mockRepo.On("Upsert", ctx, mock.AnythingOfType("*model.HealthSnapshot")).Return(nil)

	snap, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{SuccessRate: 0.91, AvgLatencyMs: 230})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusDegraded, snap.Status)
	assert.Equal(t, 0.91, snap.SuccessRate)
	mockRepo.AssertExpectations(t)
}

func TestReportHealth_InvalidStatusRejected(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	uc := newTestHealth(mockRepo, new(MockFailureRecorder))
	ctx := context.Background()

	_, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{Status: "flaky", SuccessRate: 0.5})
	assert.ErrorContains(t, err, "invalid health status")
	mockRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestReportHealth_DownTransitionForwardsFailure(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	mockBreaker := new(MockFailureRecorder)
	uc := newTestHealth(mockRepo, mockBreaker)
	ctx := context.Background()

	prev := &model.HealthSnapshot{Key: testKey, Status: model.HealthStatusHealthy, SuccessRate: 0.99}
	mockRepo.On("Get", ctx, testKey).Return(prev, nil)
	mockRepo.On("Upsert", ctx, mock.AnythingOfType("*model.HealthSnapshot")).Return(nil)
	mockBreaker.On("RecordFailure", ctx, testKey).Return(nil)

	snap, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{SuccessRate: 0.40, ErrorCount: 12})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusDown, snap.Status)
	mockBreaker.AssertExpectations(t)
}

func TestReportHealth_RepeatedDownKeepsCounting(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	mockBreaker := new(MockFailureRecorder)
	uc := newTestHealth(mockRepo, mockBreaker)
	ctx := context.Background()

	prev := &model.HealthSnapshot{Key: testKey, Status: model.HealthStatusDown, SuccessRate: 0.41}
	mockRepo.On("Get", ctx, testKey).Return(prev, nil)
	mockRepo.On("Upsert", ctx, mock.AnythingOfType("*model.HealthSnapshot")).Return(nil)
	mockBreaker.On("RecordFailure", ctx, testKey).Return(nil)

	// Each down report is one failure signal; the breaker threshold decides
	// when the accumulated count trips the circuit.
	_, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{SuccessRate: 0.40})
	require.NoError(t, err)
	mockBreaker.AssertNumberOfCalls(t, "RecordFailure", 1)
}

func TestReportHealth_BreakerErrorDoesNotFailReport(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	mockBreaker := new(MockFailureRecorder)
	uc := newTestHealth(mockRepo, mockBreaker)
	ctx := context.Background()

	mockRepo.On("Get", ctx, testKey).Return(nil, nil)
	mockRepo.On("Upsert", ctx, mock.AnythingOfType("*model.HealthSnapshot")).Return(nil)
	mockBreaker.On("RecordFailure", ctx, testKey).Return(assert.AnError)

	snap, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{SuccessRate: 0.10})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusDown, snap.Status)
}

func TestReportHealth_RecoveryTransitionAudited(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	mockBreaker := new(MockFailureRecorder)
	uc := newTestHealth(mockRepo, mockBreaker)
	ctx := context.Background()

	prev := &model.HealthSnapshot{Key: testKey, Status: model.HealthStatusDown}
	mockRepo.On("Get", ctx, testKey).Return(prev, nil)
	mockRepo.On("Upsert", ctx, mock.AnythingOfType("*model.HealthSnapshot")).Return(nil)

	snap, err := uc.ReportHealth(ctx, testKey, model.HealthMetrics{SuccessRate: 0.99, AvgLatencyMs: 120})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusHealthy, snap.Status)
	mockBreaker.AssertNotCalled(t, "RecordFailure", mock.Anything, mock.Anything)
}

func TestListRecent_WindowCutoff(t *testing.T) {
	mockRepo := new(MockHealthRepo)
	uc := newTestHealth(mockRepo, new(MockFailureRecorder))
	ctx := context.Background()

	snaps := []*model.HealthSnapshot{{Key: testKey, Status: model.HealthStatusHealthy}}
	mockRepo.On("ListRecent", ctx, mock.MatchedBy(func(since time.Time) bool {
		return time.Since(since) >= 9*time.Minute && time.Since(since) <= 11*time.Minute
	})).Return(snaps, nil)

	got, err := uc.ListRecent(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	mockRepo.AssertExpectations(t)
}
