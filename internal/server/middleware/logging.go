package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "RouteGuard/pkg/log"

	kratoserrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Logging returns a middleware that records HTTP request logs.
// It generates a request ID, injects the request context and flags slow
// requests.
//
// Example output:
//
//	POST /v1/routes/select - 200 (42ms) | RequestID: mgrn0zfqda
//	[mgrn0zfqda] Slow request detected | POST /v1/failovers | 3438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
				requestID string
				actor     string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}

					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")

					// Honor an upstream request ID when present
					requestID = httpReq.Header.Get("X-Request-ID")
					if requestID == "" {
						requestID = pkglog.GenerateRequestID()
					}

					// Operators identify themselves through this header so
					// audit entries carry a caller identity.
					actor = httpReq.Header.Get("X-Actor")
				}
			}

			// Inject the request context so all downstream log calls pick
			// up the tracing fields automatically.
			ctx = pkglog.WithRequestContext(ctx, requestID, actor, "")

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()

			status := 200
			if err != nil {
				status = extractHTTPStatus(err)
			}

			logger.RequestWithContext(ctx, method, path, status, duration,
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractClientIP extracts the real client IP from the request.
// Priority: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus maps an error to its HTTP status code
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	if se := kratoserrors.FromError(err); se != nil {
		return int(se.Code)
	}
	return 500
}
