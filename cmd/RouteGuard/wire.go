//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"
	"RouteGuard/internal/data"
	"RouteGuard/internal/server"
	"RouteGuard/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newServerConf,
		newDataConf,
		newMetricsConf,
		newNotifyConf,
		newBreakerConfig,
		newSLAConfig,
		newAnomalyConfig,
		newFailoverConfig,
		NewSweepCron,
		newApp,
	))
}

func newServerConf(bc *conf.Bootstrap) *conf.Server   { return bc.Server }
func newDataConf(bc *conf.Bootstrap) *conf.Data       { return bc.Data }
func newMetricsConf(bc *conf.Bootstrap) *conf.Metrics { return bc.Metrics }
func newNotifyConf(bc *conf.Bootstrap) *conf.Notify   { return bc.Notify }

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
