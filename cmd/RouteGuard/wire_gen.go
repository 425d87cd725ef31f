// Code generated by Wire. DO NOT EDIT.

//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"
	"RouteGuard/internal/data"
	"RouteGuard/internal/server"
	"RouteGuard/internal/service"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
)

import (
	_ "go.uber.org/automaxprocs"
)

// Injectors from wire.go:

// wireApp init kratos application.
func wireApp(bootstrap *conf.Bootstrap, logger log.Logger) (*kratos.App, func(), error) {
	confServer := newServerConf(bootstrap)
	confData := newDataConf(bootstrap)
	db, cleanup, err := data.NewMySQLClient(confData, logger)
	if err != nil {
		return nil, nil, err
	}
	routingRepo := data.NewRoutingRepo(db, logger)
	healthRepo := data.NewHealthRepo(db, logger)
	client, cleanup2, err := data.NewRedisClient(confData, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	dataData, cleanup3, err := data.NewData(confData, logger, client)
	if err != nil {
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	circuitBreakerRepo := data.NewCircuitBreakerRepo(db, dataData, logger)
	notify := newNotifyConf(bootstrap)
	webhookNotifier := data.NewWebhookNotifier(notify, logger)
	auditLoggerImpl := data.NewAuditLogger(db, logger)
	breakerConfig := newBreakerConfig(bootstrap)
	circuitBreakerUseCase := biz.NewCircuitBreakerUseCase(circuitBreakerRepo, webhookNotifier, auditLoggerImpl, breakerConfig, logger)
	routerUseCase := biz.NewRouterUseCase(routingRepo, healthRepo, circuitBreakerUseCase, auditLoggerImpl, logger)
	routingService := service.NewRoutingService(routerUseCase, logger)
	healthUseCase := biz.NewHealthUseCase(healthRepo, circuitBreakerUseCase, auditLoggerImpl, logger)
	healthService := service.NewHealthService(healthUseCase, logger)
	slaRepo := data.NewSLARepo(db, logger)
	metrics := newMetricsConf(bootstrap)
	metricsClient := data.NewMetricsClient(metrics, logger)
	remediationRepo := data.NewRemediationRepo(db, logger)
	failoverRepo := data.NewFailoverRepo(db, logger)
	connectorRegistry := data.NewConnectorRegistry(bootstrap, logger)
	failoverConfig := newFailoverConfig(bootstrap)
	failoverUseCase := biz.NewFailoverUseCase(failoverRepo, routingRepo, healthRepo, circuitBreakerUseCase, connectorRegistry, webhookNotifier, auditLoggerImpl, failoverConfig, logger)
	remediationUseCase := biz.NewRemediationUseCase(remediationRepo, circuitBreakerUseCase, failoverUseCase, webhookNotifier, auditLoggerImpl, logger)
	slaConfig := newSLAConfig(bootstrap)
	slaUseCase := biz.NewSLAUseCase(slaRepo, metricsClient, remediationUseCase, webhookNotifier, auditLoggerImpl, slaConfig, logger)
	slaService := service.NewSLAService(slaUseCase, logger)
	failoverService := service.NewFailoverService(failoverUseCase, logger)
	httpServer := server.NewHTTPServer(confServer, routingService, healthService, slaService, failoverService, logger)
	anomalyConfig := newAnomalyConfig(bootstrap)
	anomalyUseCase := biz.NewAnomalyUseCase(healthRepo, failoverUseCase, webhookNotifier, auditLoggerImpl, anomalyConfig, logger)
	cron, err := NewSweepCron(slaUseCase, anomalyUseCase, bootstrap, logger)
	if err != nil {
		cleanup3()
		cleanup2()
		cleanup()
		return nil, nil, err
	}
	app := newApp(logger, httpServer, cron)
	return app, func() {
		cleanup3()
		cleanup2()
		cleanup()
	}, nil
}

// wire.go:

func newServerConf(bc *conf.Bootstrap) *conf.Server { return bc.Server }

func newDataConf(bc *conf.Bootstrap) *conf.Data { return bc.Data }

func newMetricsConf(bc *conf.Bootstrap) *conf.Metrics { return bc.Metrics }

func newNotifyConf(bc *conf.Bootstrap) *conf.Notify { return bc.Notify }

// newBreakerConfig maps bootstrap breaker tuning into the usecase config.
func newBreakerConfig(bc *conf.Bootstrap) biz.BreakerConfig {
	return biz.BreakerConfig{
		FailureThreshold: bc.Breaker.FailureThreshold,
		ResetTimeout:     bc.Breaker.ResetTimeout.AsDuration(),
		ProbeTimeout:     bc.Breaker.ProbeTimeout.AsDuration(),
	}
}

func newSLAConfig(bc *conf.Bootstrap) biz.SLAConfig {
	return biz.SLAConfig{
		QueryTimeout: bc.Metrics.QueryTimeout.AsDuration(),
	}
}

func newAnomalyConfig(bc *conf.Bootstrap) biz.AnomalyConfig {
	return biz.AnomalyConfig{
		Enabled:       bc.Anomaly.Enabled,
		AutoThreshold: bc.Anomaly.AutoThreshold,
		Cooldown:      bc.Anomaly.Cooldown.AsDuration(),
		RecentWindow:  bc.Anomaly.RecentWindow.AsDuration(),
	}
}

func newFailoverConfig(bc *conf.Bootstrap) biz.FailoverConfig {
	return biz.FailoverConfig{
		ExecuteTimeout: bc.Failover.ExecuteTimeout.AsDuration(),
	}
}
