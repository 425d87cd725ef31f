// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
	NewHealthRepo,
	NewCircuitBreakerRepo,
	NewRoutingRepo,
	NewSLARepo,
	NewRemediationRepo,
	NewFailoverRepo,
	NewMetricsClient,
	NewAuditLogger,
	NewWebhookNotifier,
	NewConnectorRegistry,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(biz.HealthRepo), new(*HealthRepo)),
	wire.Bind(new(biz.CircuitBreakerRepo), new(*CircuitBreakerRepo)),
	wire.Bind(new(biz.RoutingRepo), new(*RoutingRepo)),
	wire.Bind(new(biz.SLARepo), new(*SLARepo)),
	wire.Bind(new(biz.RemediationRepo), new(*RemediationRepo)),
	wire.Bind(new(biz.FailoverRepo), new(*FailoverRepo)),
	wire.Bind(new(biz.MetricsSource), new(*MetricsClient)),
	wire.Bind(new(biz.AuditLogger), new(*AuditLoggerImpl)),
	wire.Bind(new(biz.Notifier), new(*WebhookNotifier)),
)

// Data contains shared data layer dependencies.
type Data struct {
	// redisClient backs the half-open probe claim
	redisClient *redis.Client
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, probe claims will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		// Redis cleanup is handled by NewRedisClient's cleanup function
		// which is called automatically by Wire
	}

	return d, cleanup, nil
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
