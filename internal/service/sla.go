package service

import (
	"RouteGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// CreatePolicyRequest is the JSON body of POST /v1/sla/policies.
type CreatePolicyRequest struct {
	ConnectorScope string  `json:"connector_scope"`
	Rail           string  `json:"rail"`
	Country        string  `json:"country"`
	Currency       string  `json:"currency"`
	Metric         string  `json:"metric"`
	Threshold      float64 `json:"threshold"`
	Operator       string  `json:"operator"`
	Severity       string  `json:"severity"`
}

// SetPolicyEnabledRequest is the JSON body of POST /v1/sla/policies/{id}/enabled.
type SetPolicyEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// AlertActionRequest identifies the operator acting on an alert.
type AlertActionRequest struct {
	Actor string `json:"actor"`
}

// SLAService exposes SLA policy management and alert workflow over HTTP.
type SLAService struct {
	uc     *biz.SLAUseCase
	logger *log.Helper
}

// NewSLAService creates a new SLAService instance.
func NewSLAService(uc *biz.SLAUseCase, logger log.Logger) *SLAService {
	return &SLAService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the SLA endpoints on the router.
func (s *SLAService) RegisterRoutes(r *http.Router) {
	r.POST("/sla/policies", s.createPolicy)
	r.POST("/sla/policies/{id}/enabled", s.setPolicyEnabled)
	r.POST("/sla/evaluate", s.evaluate)
	r.POST("/alerts/{id}/ack", s.acknowledgeAlert)
	r.POST("/alerts/{id}/resolve", s.resolveAlert)
}

func (s *SLAService) createPolicy(ctx http.Context) error {
	var req CreatePolicyRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}

	policy, err := s.uc.CreatePolicy(ctx, &biz.SLAPolicy{
		ConnectorScope: req.ConnectorScope,
		Rail:           req.Rail,
		Country:        req.Country,
		Currency:       req.Currency,
		Metric:         req.Metric,
		Threshold:      req.Threshold,
		Operator:       req.Operator,
		Severity:       req.Severity,
		Enabled:        true,
	})
	if err != nil {
		return errors.BadRequest("INVALID_POLICY", err.Error())
	}
	return ctx.Result(200, policy)
}

func (s *SLAService) setPolicyEnabled(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req SetPolicyEnabledRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}

	if err := s.uc.SetPolicyEnabled(ctx, id, req.Enabled); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"enabled": req.Enabled})
}

// evaluate runs one on-demand evaluation pass outside the scheduled tick.
func (s *SLAService) evaluate(ctx http.Context) error {
	raised, err := s.uc.EvaluateAll(ctx)
	if err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"alerts_raised": raised})
}

func (s *SLAService) acknowledgeAlert(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req AlertActionRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.Actor == "" {
		return errors.BadRequest("INVALID_REQUEST", "actor is required")
	}

	if err := s.uc.AcknowledgeAlert(ctx, id, req.Actor); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"status": biz.AlertAcknowledged})
}

func (s *SLAService) resolveAlert(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req AlertActionRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.Actor == "" {
		return errors.BadRequest("INVALID_REQUEST", "actor is required")
	}

	if err := s.uc.ResolveAlert(ctx, id, req.Actor); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"status": biz.AlertResolved})
}
