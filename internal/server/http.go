package server

import (
	"RouteGuard/internal/conf"
	"RouteGuard/internal/server/middleware"
	"RouteGuard/internal/service"
	pkglog "RouteGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	routingService *service.RoutingService,
	healthService *service.HealthService,
	slaService *service.SLAService,
	failoverService *service.FailoverService,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.HTTP.Network != "" {
		opts = append(opts, http.Network(c.HTTP.Network))
	}
	if c.HTTP.Addr != "" {
		opts = append(opts, http.Address(c.HTTP.Addr))
	}
	if c.HTTP.Timeout != nil {
		opts = append(opts, http.Timeout(c.HTTP.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	// Register HTTP routes
	r := srv.Route("/v1")
	routingService.RegisterRoutes(r)
	healthService.RegisterRoutes(r)
	slaService.RegisterRoutes(r)
	failoverService.RegisterRoutes(r)

	return srv
}
