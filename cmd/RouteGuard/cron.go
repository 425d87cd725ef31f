package main

import (
	"context"
	"fmt"
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// NewSweepCron builds the background evaluation cron. It runs the SLA
// evaluation tick and the anomaly sweep on their configured intervals.
// The returned cron is not started; the application lifecycle owns that.
func NewSweepCron(sla *biz.SLAUseCase, anomaly *biz.AnomalyUseCase, bc *conf.Bootstrap, logger log.Logger) (*cron.Cron, error) {
	helper := log.NewHelper(logger)

	c := cron.New(cron.WithSeconds())

	evaluateEvery := bc.SLA.EvaluateInterval.AsDuration()
	if evaluateEvery <= 0 {
		evaluateEvery = time.Minute
	}
	_, err := c.AddFunc(fmt.Sprintf("@every %s", evaluateEvery), func() {
		ctx, cancel := context.WithTimeout(context.Background(), evaluateEvery)
		defer cancel()

		raised, err := sla.EvaluateAll(ctx)
		if err != nil {
			helper.Errorw("msg", "SLA evaluation tick failed", "error", err)
			return
		}
		if raised > 0 {
			helper.Infow("msg", "SLA evaluation tick completed", "alerts_raised", raised)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register SLA evaluation job: %w", err)
	}

	sweepEvery := bc.Anomaly.SweepInterval.AsDuration()
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	_, err = c.AddFunc(fmt.Sprintf("@every %s", sweepEvery), func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepEvery)
		defer cancel()

		anomalies, err := anomaly.Sweep(ctx)
		if err != nil {
			helper.Errorw("msg", "anomaly sweep failed", "error", err)
			return
		}
		if len(anomalies) > 0 {
			helper.Warnw("msg", "anomaly sweep found anomalies", "count", len(anomalies))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register anomaly sweep job: %w", err)
	}

	helper.Infow("msg", "background sweeps registered",
		"sla_evaluate_interval", evaluateEvery.String(),
		"anomaly_sweep_interval", sweepEvery.String(),
	)

	return c, nil
}
