package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey is the private key type used to store the RequestContext
type contextKey string

const requestContextKey contextKey = "routeguard_request_context"

// RequestContext carries request tracing information across function and
// module boundaries via the Context.
type RequestContext struct {
	RequestID string                 // unique request ID (10-char short ID, e.g. mgrn0zfqda)
	Actor     string                 // caller identity (operator name or system component)
	Connector string                 // connector ID the request concerns, if any
	StartTime time.Time              // request start time
	Metadata  map[string]interface{} // extension metadata
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex
	// base36 charset (lowercase letters + digits)
	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID generates a 10-character random request ID.
// Format: lowercase letters + digits, e.g. mgrn0zfqda.
// Uses base36 encoding to avoid UUID overhead.
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext injects a RequestContext into the Context.
// Typically called in middleware so the whole request lifecycle carries
// tracing information.
func WithRequestContext(ctx context.Context, requestID, actor, connector string) context.Context {
	reqCtx := &RequestContext{
		RequestID: requestID,
		Actor:     actor,
		Connector: connector,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	return context.WithValue(ctx, requestContextKey, reqCtx)
}

// GetRequestContext extracts the RequestContext from the Context.
// Returns a default empty RequestContext when none is present.
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx == nil {
		return &RequestContext{
			RequestID: "unknown",
			Metadata:  make(map[string]interface{}),
		}
	}

	if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return reqCtx
	}

	return &RequestContext{
		RequestID: "unknown",
		Metadata:  make(map[string]interface{}),
	}
}

// GetRequestID extracts the request ID from the Context.
// Convenience method so callers do not need to handle the RequestContext struct.
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}

// GetActor extracts the actor from the Context.
func GetActor(ctx context.Context) string {
	return GetRequestContext(ctx).Actor
}

// GetConnector extracts the connector ID from the Context.
func GetConnector(ctx context.Context) string {
	return GetRequestContext(ctx).Connector
}

// SetMetadata attaches extra tracing information to the RequestContext.
func SetMetadata(ctx context.Context, key string, value interface{}) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		reqCtx.Metadata = make(map[string]interface{})
	}
	reqCtx.Metadata[key] = value
}

// GetMetadata reads extra tracing information from the RequestContext.
func GetMetadata(ctx context.Context, key string) (interface{}, bool) {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.Metadata == nil {
		return nil, false
	}
	value, ok := reqCtx.Metadata[key]
	return value, ok
}

// GetElapsedTime returns the elapsed request time in milliseconds.
func GetElapsedTime(ctx context.Context) int64 {
	reqCtx := GetRequestContext(ctx)
	if reqCtx.StartTime.IsZero() {
		return 0
	}
	return time.Since(reqCtx.StartTime).Milliseconds()
}
