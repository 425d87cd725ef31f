package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"RouteGuard/internal/biz"
	"RouteGuard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// MetricsClient queries the operational time-series backend for scalar
// values. The SLA evaluator compares these against policy thresholds.
type MetricsClient struct {
	baseURL    string
	queryPath  string
	httpClient *http.Client
	logger     *log.Helper
}

// NewMetricsClient constructs a client for the configured metrics backend.
func NewMetricsClient(c *conf.Metrics, logger log.Logger) *MetricsClient {
	return &MetricsClient{
		baseURL:   strings.TrimRight(c.BaseURL, "/"),
		queryPath: c.QueryPath,
		httpClient: &http.Client{
			Timeout: c.QueryTimeout.AsDuration(),
		},
		logger: log.NewHelper(logger),
	}
}

var _ biz.MetricsSource = (*MetricsClient)(nil)

// QueryScalar evaluates one metric expression and returns its current scalar
// value. The boolean result reports whether the backend had a sample; an
// empty result is not an error, the evaluator treats it as no data.
func (c *MetricsClient) QueryScalar(ctx context.Context, expr string) (float64, bool, error) {
	if c.baseURL == "" {
		return 0, false, fmt.Errorf("metrics base URL not configured")
	}

	payload := map[string]interface{}{
		"query": expr,
	}

	var response struct {
		Value       float64 `json:"value"`
		SampleCount int     `json:"sample_count"`
	}
	if err := c.postJSON(ctx, c.queryURL(), payload, &response); err != nil {
		return 0, false, fmt.Errorf("metrics query failed: %w", err)
	}

	if response.SampleCount == 0 {
		return 0, false, nil
	}
	return response.Value, true, nil
}

func (c *MetricsClient) queryURL() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	u.Path = path.Join(u.Path, c.queryPath)
	return u.String()
}

func (c *MetricsClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
