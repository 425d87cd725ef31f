package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// ConnectorRequest is the payload handed to a connector capability.
type ConnectorRequest struct {
	Reference string
	Amount    float64
	Currency  string
	Country   string
	Metadata  map[string]string
}

// ConnectorOutcome is the result of a connector call.
type ConnectorOutcome struct {
	Success bool
	Latency time.Duration
	Detail  string
}

// Connector is the capability every external settlement integration must
// provide. The wire protocol behind Send/Reverse is owned by the
// implementation; this engine only sees the outcome.
type Connector interface {
	Send(ctx context.Context, req *ConnectorRequest) (*ConnectorOutcome, error)
	Reverse(ctx context.Context, req *ConnectorRequest) (*ConnectorOutcome, error)
	SupportsReversal() bool
}

// ConnectorRegistry maps connector identifiers to their capability
// implementations. Dispatch is by string key, never by type switching.
type ConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	logger     *log.Helper
}

// NewConnectorRegistry creates an empty connector registry.
func NewConnectorRegistry(logger log.Logger) *ConnectorRegistry {
	return &ConnectorRegistry{
		connectors: make(map[string]Connector),
		logger:     log.NewHelper(logger),
	}
}

// Register registers a connector capability under the given identifier.
// Re-registering an identifier replaces the previous implementation.
func (r *ConnectorRegistry) Register(id string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[id] = c
	r.logger.Infow("connector registered", "connector_id", id, "supports_reversal", c.SupportsReversal())
}

// Get returns the connector registered under id.
func (r *ConnectorRegistry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// MustGet returns the connector registered under id or an error.
func (r *ConnectorRegistry) MustGet(id string) (Connector, error) {
	c, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("no connector registered for id %q", id)
	}
	return c, nil
}

// IDs returns the registered connector identifiers in sorted order.
func (r *ConnectorRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
