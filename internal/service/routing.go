package service

import (
	"strconv"
	"time"

	"RouteGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// SelectRouteRequest is the JSON body of POST /v1/routes/select.
type SelectRouteRequest struct {
	PayoutID     string  `json:"payout_id"`
	OriginModule string  `json:"origin_module"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Country      string  `json:"country"`
}

// OverrideRouteRequest is the JSON body of POST /v1/routes/{id}/override.
type OverrideRouteRequest struct {
	ConnectorID string `json:"connector_id"`
	Actor       string `json:"actor"`
}

// CreateAdjustmentRequest is the JSON body of POST /v1/adjustments.
type CreateAdjustmentRequest struct {
	Scope      string  `json:"scope"`
	Weight     float64 `json:"weight"`
	Bias       float64 `json:"bias"`
	TTLSeconds int     `json:"ttl_seconds"`
	CreatedBy  string  `json:"created_by"`
}

// RoutingDecisionReply is the JSON shape of a routing decision.
type RoutingDecisionReply struct {
	ID                int64                `json:"id"`
	PayoutID          string               `json:"payout_id"`
	ChosenConnectorID string               `json:"chosen_connector_id"`
	Reason            string               `json:"reason"`
	Candidates        []biz.RouteCandidate `json:"candidates"`
	OverriddenBy      string               `json:"overridden_by,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

// AdjustmentReply is the JSON shape of a routing adjustment.
type AdjustmentReply struct {
	ID        int64     `json:"id"`
	Scope     string    `json:"scope"`
	Weight    float64   `json:"weight"`
	Bias      float64   `json:"bias"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by"`
	Revoked   bool      `json:"revoked"`
}

// RoutingService exposes route selection, overrides and adjustments over HTTP.
type RoutingService struct {
	uc     *biz.RouterUseCase
	logger *log.Helper
}

// NewRoutingService creates a new RoutingService instance.
func NewRoutingService(uc *biz.RouterUseCase, logger log.Logger) *RoutingService {
	return &RoutingService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the routing endpoints on the router.
func (s *RoutingService) RegisterRoutes(r *http.Router) {
	r.POST("/routes/select", s.selectRoute)
	r.GET("/routes/{id}", s.getDecision)
	r.POST("/routes/{id}/override", s.overrideRoute)
	r.POST("/adjustments", s.createAdjustment)
	r.GET("/adjustments", s.listAdjustments)
	r.DELETE("/adjustments/{id}", s.revokeAdjustment)
}

func (s *RoutingService) selectRoute(ctx http.Context) error {
	var req SelectRouteRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.Currency == "" || req.Amount <= 0 {
		return errors.BadRequest("INVALID_REQUEST", "amount and currency are required")
	}

	decision, err := s.uc.SelectRoute(ctx, &biz.RouteRequest{
		PayoutID:     req.PayoutID,
		OriginModule: req.OriginModule,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Country:      req.Country,
	})
	if err != nil {
		return err
	}
	return ctx.Result(200, decisionReply(decision))
}

func (s *RoutingService) getDecision(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	decision, err := s.uc.GetDecision(ctx, id)
	if err != nil {
		return err
	}
	return ctx.Result(200, decisionReply(decision))
}

func (s *RoutingService) overrideRoute(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req OverrideRouteRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.ConnectorID == "" || req.Actor == "" {
		return errors.BadRequest("INVALID_REQUEST", "connector_id and actor are required")
	}

	decision, err := s.uc.OverrideRoute(ctx, id, req.ConnectorID, req.Actor)
	if err != nil {
		return err
	}
	return ctx.Result(200, decisionReply(decision))
}

func (s *RoutingService) createAdjustment(ctx http.Context) error {
	var req CreateAdjustmentRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.TTLSeconds <= 0 {
		return errors.BadRequest("INVALID_REQUEST", "ttl_seconds must be positive")
	}

	adj, err := s.uc.CreateAdjustment(ctx, &biz.RoutingAdjustment{
		Scope:     req.Scope,
		Weight:    req.Weight,
		Bias:      req.Bias,
		ExpiresAt: time.Now().Add(time.Duration(req.TTLSeconds) * time.Second),
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		return err
	}
	return ctx.Result(200, adjustmentReply(adj))
}

func (s *RoutingService) listAdjustments(ctx http.Context) error {
	includeExpired := ctx.Query().Get("include_expired") == "true"

	adjs, err := s.uc.ListAdjustments(ctx, includeExpired)
	if err != nil {
		return err
	}

	replies := make([]*AdjustmentReply, 0, len(adjs))
	for _, adj := range adjs {
		replies = append(replies, adjustmentReply(adj))
	}
	return ctx.Result(200, map[string]any{"adjustments": replies})
}

func (s *RoutingService) revokeAdjustment(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	if err := s.uc.RevokeAdjustment(ctx, id); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"revoked": true})
}

func decisionReply(d *biz.RoutingDecision) *RoutingDecisionReply {
	return &RoutingDecisionReply{
		ID:                d.ID,
		PayoutID:          d.PayoutID,
		ChosenConnectorID: d.ChosenConnectorID,
		Reason:            d.Reason,
		Candidates:        d.Candidates,
		OverriddenBy:      d.OverriddenBy,
		CreatedAt:         d.CreatedAt,
	}
}

func adjustmentReply(adj *biz.RoutingAdjustment) *AdjustmentReply {
	return &AdjustmentReply{
		ID:        adj.ID,
		Scope:     adj.Scope,
		Weight:    adj.Weight,
		Bias:      adj.Bias,
		ExpiresAt: adj.ExpiresAt,
		CreatedBy: adj.CreatedBy,
		Revoked:   adj.Revoked,
	}
}

// pathID parses a numeric path variable.
func pathID(ctx http.Context, name string) (int64, error) {
	raw := ctx.Vars().Get(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.BadRequest("INVALID_REQUEST", "invalid "+name)
	}
	return id, nil
}
