package service

import (
	"time"

	"RouteGuard/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ProposeFailoverRequest is the JSON body of POST /v1/failovers.
type ProposeFailoverRequest struct {
	ActionRef     string  `json:"action_ref,omitempty"`
	ConnectorFrom string  `json:"connector_from"`
	ConnectorTo   string  `json:"connector_to"`
	Region        string  `json:"region"`
	Currency      string  `json:"currency"`
	RequestedBy   string  `json:"requested_by"`
	Rationale     string  `json:"rationale"`
	SiraScore     float64 `json:"sira_score,omitempty"`
}

// FailoverActorRequest identifies the operator acting on a failover.
type FailoverActorRequest struct {
	Actor string `json:"actor"`
}

// FailoverActionReply is the JSON shape of a failover action.
type FailoverActionReply struct {
	ID            int64     `json:"id"`
	ActionRef     string    `json:"action_ref"`
	ConnectorFrom string    `json:"connector_from"`
	ConnectorTo   string    `json:"connector_to"`
	Region        string    `json:"region"`
	Currency      string    `json:"currency"`
	RequestedBy   string    `json:"requested_by"`
	Rationale     string    `json:"rationale"`
	Status        string    `json:"status"`
	ApprovedBy    string    `json:"approved_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FailoverHistoryReply is the JSON shape of one history entry.
type FailoverHistoryReply struct {
	Step      string    `json:"step"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// FailoverService exposes the failover workflow over HTTP.
type FailoverService struct {
	uc     *biz.FailoverUseCase
	logger *log.Helper
}

// NewFailoverService creates a new FailoverService instance.
func NewFailoverService(uc *biz.FailoverUseCase, logger log.Logger) *FailoverService {
	return &FailoverService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the failover endpoints on the router.
func (s *FailoverService) RegisterRoutes(r *http.Router) {
	r.POST("/failovers", s.propose)
	r.GET("/failovers/{id}", s.get)
	r.POST("/failovers/{id}/approve", s.approve)
	r.POST("/failovers/{id}/execute", s.execute)
	r.POST("/failovers/{id}/cancel", s.cancel)
	r.GET("/failovers/{id}/history", s.history)
}

func (s *FailoverService) propose(ctx http.Context) error {
	var req ProposeFailoverRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.RequestedBy == "" {
		return errors.BadRequest("INVALID_REQUEST", "requested_by is required")
	}

	action, err := s.uc.Propose(ctx, &biz.ProposeRequest{
		ActionRef:     req.ActionRef,
		ConnectorFrom: req.ConnectorFrom,
		ConnectorTo:   req.ConnectorTo,
		Region:        req.Region,
		Currency:      req.Currency,
		RequestedBy:   req.RequestedBy,
		Rationale:     req.Rationale,
		SiraScore:     req.SiraScore,
	})
	if err != nil {
		if _, ok := err.(*errors.Error); ok {
			return err
		}
		return errors.BadRequest("INVALID_FAILOVER", err.Error())
	}
	return ctx.Result(200, actionReply(action))
}

func (s *FailoverService) get(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	action, err := s.uc.Get(ctx, id)
	if err != nil {
		return err
	}
	return ctx.Result(200, actionReply(action))
}

func (s *FailoverService) approve(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req FailoverActorRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.Actor == "" {
		return errors.BadRequest("INVALID_REQUEST", "actor is required")
	}

	if err := s.uc.Approve(ctx, id, req.Actor); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"status": biz.FailoverExecuting})
}

// execute dispatches a pending action to background execution and returns
// immediately. A second call against a non-pending action gets a conflict.
func (s *FailoverService) execute(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	if err := s.uc.Dispatch(ctx, id); err != nil {
		return err
	}
	return ctx.Result(202, map[string]any{"id": id, "status": biz.FailoverExecuting})
}

func (s *FailoverService) cancel(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	var req FailoverActorRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.Actor == "" {
		return errors.BadRequest("INVALID_REQUEST", "actor is required")
	}

	if err := s.uc.Cancel(ctx, id, req.Actor); err != nil {
		return err
	}
	return ctx.Result(200, map[string]any{"status": biz.FailoverCancelled})
}

func (s *FailoverService) history(ctx http.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return err
	}

	entries, err := s.uc.History(ctx, id)
	if err != nil {
		return err
	}

	replies := make([]*FailoverHistoryReply, 0, len(entries))
	for _, e := range entries {
		replies = append(replies, &FailoverHistoryReply{
			Step:      e.Step,
			Details:   e.Details,
			CreatedAt: e.CreatedAt,
		})
	}
	return ctx.Result(200, map[string]any{"history": replies})
}

func actionReply(a *biz.FailoverAction) *FailoverActionReply {
	return &FailoverActionReply{
		ID:            a.ID,
		ActionRef:     a.ActionRef,
		ConnectorFrom: a.ConnectorFrom,
		ConnectorTo:   a.ConnectorTo,
		Region:        a.Region,
		Currency:      a.Currency,
		RequestedBy:   a.RequestedBy,
		Rationale:     a.Rationale,
		Status:        a.Status,
		ApprovedBy:    a.ApprovedBy,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
