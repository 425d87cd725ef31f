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
	"RouteGuard/pkg/crypto"

	"github.com/go-kratos/kratos/v2/log"
)

// WebhookNotifier delivers operational events to per-scope webhook URLs.
// Scopes without a configured URL are logged and dropped; delivery stays
// best-effort either way since every caller treats publish errors as
// non-fatal. When a signing secret is configured, every delivery carries
// an X-Signature header the receiver can verify.
type WebhookNotifier struct {
	webhooks   map[string]string
	signer     *crypto.HMACSigner
	httpClient *http.Client
	logger     *log.Helper
}

// NewWebhookNotifier creates a webhook notifier from configuration.
func NewWebhookNotifier(c *conf.Notify, logger log.Logger) *WebhookNotifier {
	helper := log.NewHelper(logger)

	webhooks := map[string]string{}
	timeout := 5 * time.Second
	var signer *crypto.HMACSigner
	if c != nil {
		if c.Webhooks != nil {
			webhooks = c.Webhooks
		}
		if c.Timeout != nil && c.Timeout.AsDuration() > 0 {
			timeout = c.Timeout.AsDuration()
		}
		if c.SigningSecret != "" {
			s, err := crypto.NewHMACSigner([]byte(c.SigningSecret))
			if err != nil {
				helper.Warnw("msg", "webhook signing disabled", "error", err)
			} else {
				signer = s
			}
		}
	}

	return &WebhookNotifier{
		webhooks: webhooks,
		signer:   signer,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: helper,
	}
}

var _ biz.Notifier = (*WebhookNotifier)(nil)

// Publish delivers one event to the webhook bound to its scope.
func (n *WebhookNotifier) Publish(ctx context.Context, scope, event string, payload any) error {
	url, ok := n.webhooks[scope]
	if !ok || url == "" {
		n.logger.Infow("notification (no webhook configured)",
			"scope", scope,
			"event", event)
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"event":   event,
		"scope":   scope,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.signer != nil {
		req.Header.Set("X-Signature", n.signer.Sign(body))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook for scope %s returned %s", scope, resp.Status)
	}

	n.logger.Debugw("notification delivered", "scope", scope, "event", event)
	return nil
}
