package biz

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Routing decision reasons.
const (
	ReasonBestScore      = "best_score"
	ReasonManualOverride = "manual_override"
)

// ConnectorProfile describes one connector's commercial terms for a currency.
type ConnectorProfile struct {
	ConnectorID  string
	Region       string
	Currency     string
	Country      string
	FlatFee      float64
	PercentFee   float64
	DelaySeconds int
	RiskScore    float64
	Enabled      bool
}

// RouteCandidate is one scored connector within a routing decision.
type RouteCandidate struct {
	ConnectorID  string  `json:"connector_id"`
	Score        float64 `json:"score"`
	BaseScore    float64 `json:"base_score"`
	FlatFee      float64 `json:"flat_fee"`
	PercentFee   float64 `json:"percent_fee"`
	DelaySeconds int     `json:"delay_seconds"`
	RiskScore    float64 `json:"risk_score"`
	Health       string  `json:"health,omitempty"`
	Probe        bool    `json:"probe,omitempty"`
}

// RoutingDecision is the immutable record of one scoring event. It may be
// patched exactly once by a manual override, which never alters the original
// candidate list.
type RoutingDecision struct {
	ID                int64
	PayoutID          string
	OriginModule      string
	Amount            float64
	Currency          string
	Country           string
	ChosenConnectorID string
	Reason            string
	Candidates        []RouteCandidate
	OverriddenBy      string
	CreatedAt         time.Time
}

// RoutingAdjustment is a time-bounded score modifier scoped to a connector:
// the weight multiplies the base score and the bias is added on top.
type RoutingAdjustment struct {
	ID        int64
	Scope     string
	Weight    float64
	Bias      float64
	ExpiresAt time.Time
	CreatedBy string
	Revoked   bool
	CreatedAt time.Time
}

// RoutingRepo persists profiles, adjustments and decisions.
type RoutingRepo interface {
	// ListProfiles returns enabled connector profiles supporting the currency.
	ListProfiles(ctx context.Context, currency string) ([]*ConnectorProfile, error)

	// UpsertProfile creates or replaces a connector profile.
	UpsertProfile(ctx context.Context, p *ConnectorProfile) error

	// ActiveAdjustments returns unrevoked adjustments with expires_at > now.
	ActiveAdjustments(ctx context.Context, now time.Time) ([]*RoutingAdjustment, error)

	// CreateAdjustment persists a new adjustment and sets its ID.
	CreateAdjustment(ctx context.Context, adj *RoutingAdjustment) error

	// ListAdjustments returns adjustments, optionally including expired ones.
	ListAdjustments(ctx context.Context, includeExpired bool) ([]*RoutingAdjustment, error)

	// RevokeAdjustment marks an adjustment revoked. False when absent.
	RevokeAdjustment(ctx context.Context, id int64) (bool, error)

	// SaveDecision appends a routing decision and sets its ID.
	SaveDecision(ctx context.Context, d *RoutingDecision) error

	// GetDecision returns a decision by id, or (nil, nil) when absent.
	GetDecision(ctx context.Context, id int64) (*RoutingDecision, error)

	// OverrideDecision patches the chosen connector exactly once. False when
	// the decision was already overridden.
	OverrideDecision(ctx context.Context, id int64, connectorID, reason, actor string) (bool, error)
}

// RouteRequest is the input to route selection.
type RouteRequest struct {
	PayoutID     string
	OriginModule string
	Amount       float64
	Currency     string
	Country      string
}

// ErrNoRoutesAvailable signals that no eligible connector exists for the
// currency after breaker exclusion. Surfaced to the caller, never retried
// automatically.
func ErrNoRoutesAvailable(currency string) *errors.Error {
	return errors.New(503, "NO_ROUTES_AVAILABLE",
		fmt.Sprintf("no eligible connector for currency %s", currency))
}

// ErrDecisionAlreadyOverridden signals a second override attempt.
func ErrDecisionAlreadyOverridden(id int64) *errors.Error {
	return errors.New(409, "DECISION_ALREADY_OVERRIDDEN",
		fmt.Sprintf("routing decision %d was already overridden", id))
}

// ErrDecisionNotFound signals an override against an unknown decision.
func ErrDecisionNotFound(id int64) *errors.Error {
	return errors.New(404, "DECISION_NOT_FOUND",
		fmt.Sprintf("routing decision %d not found", id))
}

// RouterUseCase ranks eligible connectors for a money-movement request and
// records every decision, even single-candidate ones, for audit completeness.
type RouterUseCase struct {
	repo    RoutingRepo
	health  HealthRepo
	breaker *CircuitBreakerUseCase
	audit   AuditLogger
	logger  *log.Helper
}

// NewRouterUseCase creates a route scorer use case.
func NewRouterUseCase(repo RoutingRepo, health HealthRepo, breaker *CircuitBreakerUseCase, audit AuditLogger, logger log.Logger) *RouterUseCase {
	return &RouterUseCase{
		repo:    repo,
		health:  health,
		breaker: breaker,
		audit:   audit,
		logger:  log.NewHelper(logger),
	}
}

// Score computes the base routing score for a profile and amount.
// Lower is better: total fees, plus risk weighted at 100, plus a
// logarithmic delay penalty normalized to hours.
func Score(p *ConnectorProfile, amount float64) float64 {
	fee := p.FlatFee + p.PercentFee*amount
	delayPenalty := math.Log(1+float64(p.DelaySeconds)/3600) * 2
	return fee + p.RiskScore*100 + delayPenalty
}

// SelectRoute scores all eligible connectors for the request and persists the
// decision. Connectors with an open breaker are excluded before scoring; a
// half-open connector may win only by claiming its single trial slot.
func (uc *RouterUseCase) SelectRoute(ctx context.Context, req *RouteRequest) (*RoutingDecision, error) {
	profiles, err := uc.repo.ListProfiles(ctx, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to list connector profiles: %w", err)
	}

	adjustments, err := uc.repo.ActiveAdjustments(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	adjByScope := make(map[string]*RoutingAdjustment, len(adjustments))
	for _, adj := range adjustments {
		adjByScope[adj.Scope] = adj
	}

	// Candidate generation: exclude open breakers up front so they never
	// appear in the persisted candidate list.
	candidates := make([]RouteCandidate, 0, len(profiles))
	keys := make(map[string]model.ConnectorKey, len(profiles))
	for _, p := range profiles {
		key := model.ConnectorKey{ConnectorID: p.ConnectorID, Region: p.Region, Currency: p.Currency}
		eligible, err := uc.breaker.Eligible(ctx, key)
		if err != nil {
			uc.logger.Warnw("breaker eligibility check failed, excluding connector",
				"key", key.String(), "error", err)
			continue
		}
		if !eligible {
			continue
		}

		base := Score(p, req.Amount)
		score := base
		if adj, ok := adjByScope[p.ConnectorID]; ok {
			score = base*adj.Weight + adj.Bias
		}

		cand := RouteCandidate{
			ConnectorID:  p.ConnectorID,
			Score:        score,
			BaseScore:    base,
			FlatFee:      p.FlatFee,
			PercentFee:   p.PercentFee,
			DelaySeconds: p.DelaySeconds,
			RiskScore:    p.RiskScore,
		}
		if snap, err := uc.health.Get(ctx, key); err == nil && snap != nil {
			cand.Health = snap.Status
		}
		candidates = append(candidates, cand)
		keys[p.ConnectorID] = key
	}

	if len(candidates) == 0 {
		return nil, ErrNoRoutesAvailable(req.Currency)
	}

	// Deterministic ordering: score ascending, ties by connector id.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].ConnectorID < candidates[j].ConnectorID
	})

	// Admission pass: the best-scored connector wins unless it is half-open
	// and its single trial slot is already claimed, in which case the next
	// candidate takes over.
	chosen := -1
	for i := range candidates {
		adm, err := uc.breaker.Admit(ctx, keys[candidates[i].ConnectorID])
		if err != nil {
			if errors.Reason(err) == "CIRCUIT_OPEN" {
				continue
			}
			return nil, err
		}
		if adm.Allowed {
			candidates[i].Probe = adm.Probe
			chosen = i
			break
		}
	}
	if chosen < 0 {
		// Candidates existed but every one was a half-open loser: reject so
		// the caller re-scores instead of queueing behind the probes.
		return nil, ErrCircuitOpen(keys[candidates[0].ConnectorID])
	}

	decision := &RoutingDecision{
		PayoutID:          req.PayoutID,
		OriginModule:      req.OriginModule,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Country:           req.Country,
		ChosenConnectorID: candidates[chosen].ConnectorID,
		Reason:            ReasonBestScore,
		Candidates:        candidates,
		CreatedAt:         time.Now(),
	}
	if err := uc.repo.SaveDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("failed to persist routing decision: %w", err)
	}

	uc.logger.Infow("route selected",
		"decision_id", decision.ID,
		"connector_id", decision.ChosenConnectorID,
		"score", candidates[chosen].Score,
		"currency", req.Currency,
		"amount", req.Amount,
		"candidates", len(candidates))
	uc.audit.LogRouteSelected(ctx, decision.ID, decision.ChosenConnectorID, candidates[chosen].Score, len(candidates))

	return decision, nil
}

// OverrideRoute replaces the chosen connector on a past decision exactly
// once, recording reason "manual_override" without deleting the original
// candidate list.
func (uc *RouterUseCase) OverrideRoute(ctx context.Context, decisionID int64, connectorID, actor string) (*RoutingDecision, error) {
	existing, err := uc.repo.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	if existing == nil {
		return nil, ErrDecisionNotFound(decisionID)
	}

	ok, err := uc.repo.OverrideDecision(ctx, decisionID, connectorID, ReasonManualOverride, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to override decision: %w", err)
	}
	if !ok {
		return nil, ErrDecisionAlreadyOverridden(decisionID)
	}

	uc.logger.Infow("route overridden",
		"decision_id", decisionID,
		"connector_id", connectorID,
		"actor", actor,
		"previous", existing.ChosenConnectorID)
	uc.audit.LogRouteOverridden(ctx, decisionID, connectorID, actor)

	return uc.repo.GetDecision(ctx, decisionID)
}

// GetDecision returns a past routing decision by id.
func (uc *RouterUseCase) GetDecision(ctx context.Context, id int64) (*RoutingDecision, error) {
	d, err := uc.repo.GetDecision(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load decision: %w", err)
	}
	if d == nil {
		return nil, ErrDecisionNotFound(id)
	}
	return d, nil
}

// CreateAdjustment registers a time-bounded score modifier for a connector.
// An omitted weight means multiply by one, so a bias-only adjustment works.
func (uc *RouterUseCase) CreateAdjustment(ctx context.Context, adj *RoutingAdjustment) (*RoutingAdjustment, error) {
	if adj.Scope == "" {
		return nil, fmt.Errorf("adjustment scope is required")
	}
	if adj.Weight == 0 {
		adj.Weight = 1
	}
	if adj.Weight < 0 {
		return nil, fmt.Errorf("adjustment weight must be positive, got %v", adj.Weight)
	}
	if !adj.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("adjustment must expire in the future")
	}

	if err := uc.repo.CreateAdjustment(ctx, adj); err != nil {
		return nil, fmt.Errorf("failed to create adjustment: %w", err)
	}

	uc.logger.Infow("routing adjustment created",
		"adjustment_id", adj.ID,
		"scope", adj.Scope,
		"weight", adj.Weight,
		"bias", adj.Bias,
		"expires_at", adj.ExpiresAt)
	return adj, nil
}

// ListAdjustments lists adjustments; expired ones only when requested.
func (uc *RouterUseCase) ListAdjustments(ctx context.Context, includeExpired bool) ([]*RoutingAdjustment, error) {
	return uc.repo.ListAdjustments(ctx, includeExpired)
}

// RevokeAdjustment administratively revokes an adjustment before expiry.
func (uc *RouterUseCase) RevokeAdjustment(ctx context.Context, id int64) error {
	ok, err := uc.repo.RevokeAdjustment(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to revoke adjustment: %w", err)
	}
	if !ok {
		return fmt.Errorf("adjustment %d not found", id)
	}
	uc.logger.Infow("routing adjustment revoked", "adjustment_id", id)
	return nil
}
