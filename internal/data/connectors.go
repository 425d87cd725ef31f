package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// connectorCallTimeout bounds one Send or Reverse call against a connector
// endpoint.
const connectorCallTimeout = 15 * time.Second

// HTTPConnector is the capability adapter for one configured connector
// endpoint. Send and Reverse POST the request to the endpoint's /send and
// /reverse paths.
type HTTPConnector struct {
	id               string
	baseURL          string
	supportsReversal bool
	httpClient       *http.Client
	logger           *log.Helper
}

var _ biz.Connector = (*HTTPConnector)(nil)

// Send pushes one money movement through the connector.
func (c *HTTPConnector) Send(ctx context.Context, req *biz.ConnectorRequest) (*biz.ConnectorOutcome, error) {
	return c.call(ctx, "/send", req)
}

// Reverse requests the reversal of a prior movement.
func (c *HTTPConnector) Reverse(ctx context.Context, req *biz.ConnectorRequest) (*biz.ConnectorOutcome, error) {
	if !c.supportsReversal {
		return nil, fmt.Errorf("connector %s does not support reversal", c.id)
	}
	return c.call(ctx, "/reverse", req)
}

// SupportsReversal reports whether the endpoint advertises reversal.
func (c *HTTPConnector) SupportsReversal() bool {
	return c.supportsReversal
}

func (c *HTTPConnector) call(ctx context.Context, path string, req *biz.ConnectorRequest) (*biz.ConnectorOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode connector request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build connector request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connector %s call failed: %w", c.id, err)
	}
	defer resp.Body.Close()

	var out struct {
		Success bool   `json:"success"`
		Detail  string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode connector response: %w", err)
	}

	outcome := &biz.ConnectorOutcome{
		Success: out.Success && resp.StatusCode == http.StatusOK,
		Latency: time.Since(start),
		Detail:  out.Detail,
	}

	c.logger.Debugw("connector call finished",
		"connector_id", c.id,
		"path", path,
		"success", outcome.Success,
		"latency_ms", outcome.Latency.Milliseconds())
	return outcome, nil
}

// NewConnectorRegistry builds the registry from the configured connector
// endpoints.
func NewConnectorRegistry(bc *conf.Bootstrap, logger log.Logger) *biz.ConnectorRegistry {
	registry := biz.NewConnectorRegistry(logger)
	helper := log.NewHelper(logger)

	for _, ep := range bc.Connectors {
		if ep.ID == "" || ep.URL == "" {
			helper.Warnw("skipping connector endpoint with missing id or url",
				"connector_id", ep.ID)
			continue
		}
		registry.Register(ep.ID, &HTTPConnector{
			id:               ep.ID,
			baseURL:          ep.URL,
			supportsReversal: ep.SupportsReversal,
			httpClient:       &http.Client{Timeout: connectorCallTimeout},
			logger:           helper,
		})
	}

	return registry
}
