package service

import (
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/model"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// defaultHealthWindow bounds the list endpoint when no window is given.
const defaultHealthWindow = 15 * time.Minute

// ReportHealthRequest is the JSON body of POST /v1/health/report. It accepts
// both active probe results and connector webhook callbacks.
type ReportHealthRequest struct {
	ConnectorID  string  `json:"connector_id"`
	Region       string  `json:"region"`
	Currency     string  `json:"currency"`
	Status       string  `json:"status,omitempty"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	ErrorCount   int     `json:"error_count"`
}

// HealthSnapshotReply is the JSON shape of one health snapshot.
type HealthSnapshotReply struct {
	ConnectorID   string    `json:"connector_id"`
	Region        string    `json:"region"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	SuccessRate   float64   `json:"success_rate"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	ErrorCount    int       `json:"error_count"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// HealthService exposes the health registry over HTTP.
type HealthService struct {
	uc     *biz.HealthUseCase
	logger *log.Helper
}

// NewHealthService creates a new HealthService instance.
func NewHealthService(uc *biz.HealthUseCase, logger log.Logger) *HealthService {
	return &HealthService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the health endpoints on the router.
func (s *HealthService) RegisterRoutes(r *http.Router) {
	r.POST("/health/report", s.reportHealth)
	r.GET("/health", s.listHealth)
	r.GET("/health/{connector_id}", s.getHealth)
}

func (s *HealthService) reportHealth(ctx http.Context) error {
	var req ReportHealthRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.BadRequest("INVALID_REQUEST", err.Error())
	}
	if req.ConnectorID == "" {
		return errors.BadRequest("INVALID_REQUEST", "connector_id is required")
	}
	if req.SuccessRate < 0 || req.SuccessRate > 1 {
		return errors.BadRequest("INVALID_REQUEST", "success_rate must be within [0,1]")
	}

	key := model.ConnectorKey{
		ConnectorID: req.ConnectorID,
		Region:      req.Region,
		Currency:    req.Currency,
	}
	snap, err := s.uc.ReportHealth(ctx, key, model.HealthMetrics{
		Status:       req.Status,
		SuccessRate:  req.SuccessRate,
		AvgLatencyMs: req.AvgLatencyMs,
		ErrorCount:   req.ErrorCount,
	})
	if err != nil {
		return err
	}
	return ctx.Result(200, snapshotReply(snap))
}

func (s *HealthService) listHealth(ctx http.Context) error {
	window := defaultHealthWindow
	if raw := ctx.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return errors.BadRequest("INVALID_REQUEST", "invalid window")
		}
		window = parsed
	}

	snaps, err := s.uc.ListRecent(ctx, window)
	if err != nil {
		return err
	}

	replies := make([]*HealthSnapshotReply, 0, len(snaps))
	for _, snap := range snaps {
		replies = append(replies, snapshotReply(snap))
	}
	return ctx.Result(200, map[string]any{"snapshots": replies})
}

func (s *HealthService) getHealth(ctx http.Context) error {
	key := model.ConnectorKey{
		ConnectorID: ctx.Vars().Get("connector_id"),
		Region:      ctx.Query().Get("region"),
		Currency:    ctx.Query().Get("currency"),
	}

	snap, err := s.uc.GetHealth(ctx, key)
	if err != nil {
		return err
	}
	if snap == nil {
		return errors.NotFound("HEALTH_NOT_FOUND",
			"no health snapshot for connector "+key.String())
	}
	return ctx.Result(200, snapshotReply(snap))
}

func snapshotReply(snap *model.HealthSnapshot) *HealthSnapshotReply {
	return &HealthSnapshotReply{
		ConnectorID:   snap.Key.ConnectorID,
		Region:        snap.Key.Region,
		Currency:      snap.Key.Currency,
		Status:        snap.Status,
		SuccessRate:   snap.SuccessRate,
		AvgLatencyMs:  snap.AvgLatencyMs,
		ErrorCount:    snap.ErrorCount,
		LastCheckedAt: snap.LastCheckedAt,
	}
}
