package biz

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// BreakerState is the persisted state of one connector's breaker.
type BreakerState struct {
	Key                model.ConnectorKey
	State              string
	FailureCount       int
	OpenedAt           *time.Time
	HalfOpenProbeCount int
}

// CircuitBreakerRepo persists breaker rows and owns the atomic half-open
// probe claim. All conditional transitions report whether the guarded update
// actually applied.
type CircuitBreakerRepo interface {
	// Get returns the breaker row for key, or (nil, nil) when none exists.
	Get(ctx context.Context, key model.ConnectorKey) (*BreakerState, error)

	// Create inserts a closed breaker row with the given failure count.
	Create(ctx context.Context, key model.ConnectorKey, failureCount int) error

	// IncrementFailure adds one failure to a closed breaker and returns the
	// resulting count.
	IncrementFailure(ctx context.Context, key model.ConnectorKey) (int, error)

	// ResetFailures zeroes the failure count of a closed breaker.
	ResetFailures(ctx context.Context, key model.ConnectorKey) error

	// TripOpen transitions closed -> open. Applies only while state is closed.
	TripOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error)

	// MoveHalfOpen transitions open -> half_open and resets the probe count.
	// Applies only while state is open.
	MoveHalfOpen(ctx context.Context, key model.ConnectorKey) (bool, error)

	// CloseBreaker transitions half_open -> closed and zeroes the failure
	// count. Applies only while state is half_open.
	CloseBreaker(ctx context.Context, key model.ConnectorKey) (bool, error)

	// Reopen transitions half_open -> open with a fresh opened_at timestamp.
	// Applies only while state is half_open.
	Reopen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) (bool, error)

	// ForceOpen sets the breaker open regardless of current state, creating
	// the row if needed.
	ForceOpen(ctx context.Context, key model.ConnectorKey, openedAt time.Time) error

	// ClaimProbe atomically claims the single half-open trial slot.
	// Returns false when another request already holds it.
	ClaimProbe(ctx context.Context, key model.ConnectorKey, ttl time.Duration) (bool, error)

	// ReleaseProbe releases the half-open trial slot.
	ReleaseProbe(ctx context.Context, key model.ConnectorKey) error

	// IncrementProbeCount increments and returns the half-open probe counter.
	IncrementProbeCount(ctx context.Context, key model.ConnectorKey) (int, error)
}

// BreakerConfig tunes the breaker state machine.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open breaker waits before a trial probe.
	ResetTimeout time.Duration
	// ProbeTimeout bounds how long the half-open trial slot stays claimed.
	ProbeTimeout time.Duration
}

// Admission is the result of asking the breaker whether a request may pass.
type Admission struct {
	Allowed bool
	// Probe is true when the admitted request is the half-open trial; the
	// caller must report its outcome via RecordSuccess or RecordFailure.
	Probe bool
}

// ErrCircuitOpen signals that the connector is excluded from routing. The
// caller must re-score, not force-route.
func ErrCircuitOpen(key model.ConnectorKey) *errors.Error {
	return errors.New(503, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit open for connector %s", key))
}

// CircuitBreakerUseCase implements the failure-counting gate that excludes
// unhealthy connectors from routing. Only the half-open probe may close the
// breaker; raw success bursts never do.
type CircuitBreakerUseCase struct {
	repo     CircuitBreakerRepo
	notifier Notifier
	audit    AuditLogger
	cfg      BreakerConfig
	logger   *log.Helper
}

// NewCircuitBreakerUseCase creates a circuit breaker use case.
func NewCircuitBreakerUseCase(repo CircuitBreakerRepo, notifier Notifier, audit AuditLogger, cfg BreakerConfig, logger log.Logger) *CircuitBreakerUseCase {
	return &CircuitBreakerUseCase{
		repo:     repo,
		notifier: notifier,
		audit:    audit,
		cfg:      cfg,
		logger:   log.NewHelper(logger),
	}
}

// Eligible reports whether the connector may appear among routing candidates.
// Open breakers whose reset timeout has not elapsed are excluded; everything
// else (absent row, closed, half_open, open past the timeout) stays eligible.
func (uc *CircuitBreakerUseCase) Eligible(ctx context.Context, key model.ConnectorKey) (bool, error) {
	st, err := uc.repo.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read breaker state: %w", err)
	}
	if st == nil || st.State != BreakerOpen {
		return true, nil
	}
	if st.OpenedAt == nil {
		return false, nil
	}
	return time.Since(*st.OpenedAt) >= uc.cfg.ResetTimeout, nil
}

// Admit decides whether one request may be routed through the connector.
// Closed breakers admit normally. An open breaker past its reset timeout is
// flipped to half_open, and exactly one caller wins the probe claim; every
// other concurrent request is rejected, not queued.
func (uc *CircuitBreakerUseCase) Admit(ctx context.Context, key model.ConnectorKey) (Admission, error) {
	st, err := uc.repo.Get(ctx, key)
	if err != nil {
		return Admission{}, fmt.Errorf("failed to read breaker state: %w", err)
	}
	if st == nil || st.State == BreakerClosed {
		return Admission{Allowed: true}, nil
	}

	switch st.State {
	case BreakerOpen:
		if st.OpenedAt == nil || time.Since(*st.OpenedAt) < uc.cfg.ResetTimeout {
			return Admission{}, ErrCircuitOpen(key)
		}
		// Reset timeout elapsed: move to half_open. Losing the conditional
		// update just means a concurrent request got there first.
		if _, err := uc.repo.MoveHalfOpen(ctx, key); err != nil {
			return Admission{}, fmt.Errorf("failed to move breaker to half_open: %w", err)
		}
		return uc.admitProbe(ctx, key)
	case BreakerHalfOpen:
		return uc.admitProbe(ctx, key)
	default:
		return Admission{}, fmt.Errorf("unknown breaker state %q for %s", st.State, key)
	}
}

// admitProbe claims the single half-open trial slot.
func (uc *CircuitBreakerUseCase) admitProbe(ctx context.Context, key model.ConnectorKey) (Admission, error) {
	claimed, err := uc.repo.ClaimProbe(ctx, key, uc.cfg.ProbeTimeout)
	if err != nil {
		return Admission{}, fmt.Errorf("failed to claim half-open probe: %w", err)
	}
	if !claimed {
		return Admission{}, ErrCircuitOpen(key)
	}

	if _, err := uc.repo.IncrementProbeCount(ctx, key); err != nil {
		uc.logger.Warnw("failed to increment probe count", "key", key.String(), "error", err)
	}

	uc.logger.Infow("half-open probe admitted", "key", key.String())
	return Admission{Allowed: true, Probe: true}, nil
}

// RecordFailure feeds one failure signal into the breaker. While closed it
// increments the counter and trips the circuit at the threshold; a half-open
// probe failure reopens the circuit and restarts the reset timer.
func (uc *CircuitBreakerUseCase) RecordFailure(ctx context.Context, key model.ConnectorKey) error {
	st, err := uc.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read breaker state: %w", err)
	}

	if st == nil {
		// Lazily created on first failure.
		if err := uc.repo.Create(ctx, key, 1); err != nil {
			return fmt.Errorf("failed to create breaker row: %w", err)
		}
		if uc.cfg.FailureThreshold <= 1 {
			return uc.trip(ctx, key, 1)
		}
		return nil
	}

	switch st.State {
	case BreakerClosed:
		count, err := uc.repo.IncrementFailure(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to increment failure count: %w", err)
		}
		if count >= uc.cfg.FailureThreshold {
			return uc.trip(ctx, key, count)
		}
		uc.logger.Debugw("breaker failure recorded",
			"key", key.String(),
			"failure_count", count,
			"threshold", uc.cfg.FailureThreshold)
		return nil
	case BreakerHalfOpen:
		now := time.Now()
		reopened, err := uc.repo.Reopen(ctx, key, now)
		if err != nil {
			return fmt.Errorf("failed to reopen breaker: %w", err)
		}
		if err := uc.repo.ReleaseProbe(ctx, key); err != nil {
			uc.logger.Warnw("failed to release probe after failure", "key", key.String(), "error", err)
		}
		if reopened {
			uc.logger.Warnw("half-open probe failed, breaker reopened", "key", key.String())
		}
		return nil
	default:
		// Already open: the reset timer keeps running from the original trip.
		uc.logger.Debugw("failure recorded while breaker open", "key", key.String())
		return nil
	}
}

// RecordSuccess feeds one success signal into the breaker. A closed breaker
// resets its consecutive failure counter. Only a half-open probe success
// closes the circuit; success signals in any other state never do, to avoid
// flapping under transient success bursts.
func (uc *CircuitBreakerUseCase) RecordSuccess(ctx context.Context, key model.ConnectorKey) error {
	st, err := uc.repo.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read breaker state: %w", err)
	}
	if st == nil {
		return nil
	}

	switch st.State {
	case BreakerClosed:
		if st.FailureCount > 0 {
			if err := uc.repo.ResetFailures(ctx, key); err != nil {
				return fmt.Errorf("failed to reset failure count: %w", err)
			}
		}
		return nil
	case BreakerHalfOpen:
		closed, err := uc.repo.CloseBreaker(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to close breaker: %w", err)
		}
		if err := uc.repo.ReleaseProbe(ctx, key); err != nil {
			uc.logger.Warnw("failed to release probe after success", "key", key.String(), "error", err)
		}
		if !closed {
			return nil
		}

		openFor := time.Duration(0)
		if st.OpenedAt != nil {
			openFor = time.Since(*st.OpenedAt)
		}
		probeCount := st.HalfOpenProbeCount + 1

		uc.logger.Infow("breaker recovered",
			"key", key.String(),
			"open_for", openFor,
			"probe_count", probeCount)
		uc.audit.LogCircuitRecovered(ctx, key, openFor, probeCount)

		if err := uc.notifier.Publish(ctx, NotifyScopeRouting, "circuit.recovered", &model.CircuitRecoveredEvent{
			Key:        key,
			OpenFor:    openFor,
			ProbeCount: probeCount,
		}); err != nil {
			uc.logger.Warnw("failed to publish recovery event", "key", key.String(), "error", err)
		}
		return nil
	default:
		// Stale success against an open breaker; the probe path owns recovery.
		uc.logger.Debugw("success ignored while breaker open", "key", key.String())
		return nil
	}
}

// ForceOpen trips the breaker immediately regardless of its failure count.
// Used by the pause_connector remediation and by failover execution.
func (uc *CircuitBreakerUseCase) ForceOpen(ctx context.Context, key model.ConnectorKey, reason string) error {
	now := time.Now()
	if err := uc.repo.ForceOpen(ctx, key, now); err != nil {
		return fmt.Errorf("failed to force-open breaker: %w", err)
	}

	uc.logger.Warnw("breaker force-opened", "key", key.String(), "reason", reason)
	uc.audit.LogCircuitTripped(ctx, key, 0, now)

	if err := uc.notifier.Publish(ctx, NotifyScopeRouting, "circuit.tripped", &model.CircuitTrippedEvent{
		Key:      key,
		OpenedAt: now,
	}); err != nil {
		uc.logger.Warnw("failed to publish trip event", "key", key.String(), "error", err)
	}
	return nil
}

// trip transitions closed -> open and fans out notifications.
func (uc *CircuitBreakerUseCase) trip(ctx context.Context, key model.ConnectorKey, failureCount int) error {
	now := time.Now()
	tripped, err := uc.repo.TripOpen(ctx, key, now)
	if err != nil {
		return fmt.Errorf("failed to trip breaker: %w", err)
	}
	if !tripped {
		// A concurrent failure already tripped it.
		return nil
	}

	uc.logger.Warnw("breaker tripped",
		"key", key.String(),
		"failure_count", failureCount,
		"threshold", uc.cfg.FailureThreshold)
	uc.audit.LogCircuitTripped(ctx, key, failureCount, now)

	if err := uc.notifier.Publish(ctx, NotifyScopeRouting, "circuit.tripped", &model.CircuitTrippedEvent{
		Key:          key,
		FailureCount: failureCount,
		OpenedAt:     now,
	}); err != nil {
		uc.logger.Warnw("failed to publish trip event", "key", key.String(), "error", err)
	}
	return nil
}
