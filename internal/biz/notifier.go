package biz

import "context"

// Notification scopes used by the engine.
const (
	NotifyScopeOps       = "ops"
	NotifyScopeRouting   = "routing"
	NotifyScopeFailover  = "failover"
	NotifyScopeSLA       = "sla"
	NotifyScopeTicketing = "ticketing"
)

// Notifier publishes operational events to subscribed channels (webhooks,
// chat hooks, ticketing). Delivery is best-effort; callers log and continue
// on error.
type Notifier interface {
	Publish(ctx context.Context, scope, event string, payload any) error
}
