// Package delivery contains the per-channel transports and the delivery
// manager that fans a notification out across its requested channels.
//
// Transports are split into individual files:
//   - email.go:   AWS SES v2
//   - sms.go:     SMS gateway JSON API
//   - push.go:    mobile push provider (multi-token fan-out)
//   - browser.go: browser push provider (multi-subscription fan-out)
//   - inapp.go:   live hub delivery with persisted-inbox fallback
//
// A transport never returns an error to the manager: every provider,
// network, and address-resolution failure is resolved into a FAILED
// DeliveryResult with a populated error message.
package delivery

import (
	"context"
	"time"

	"github.com/tripwell/notify/internal/domain"
)

// Transport is the concrete sender implementation for one channel.
type Transport interface {
	Channel() domain.DeliveryChannel
	Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult
	// ValidateConfig reports whether the transport has everything it
	// needs to attempt sends. Used for startup health checks.
	ValidateConfig() bool
}

// retryableStatus reports whether an HTTP status from a provider is worth
// one more attempt. Client errors are final; server errors and throttling
// are transient.
func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}

// sleepBackoff waits out the retry backoff unless the delivery context
// ends first. Reports whether the retry should proceed.
func sleepBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// sentResult builds a SENT DeliveryResult with a provider id.
func sentResult(notificationID string, ch domain.DeliveryChannel, providerID string) *domain.DeliveryResult {
	return &domain.DeliveryResult{
		NotificationID: notificationID,
		Channel:        ch,
		Status:         domain.StatusSent,
		ProviderID:     providerID,
		TrackingInfo:   map[string]string{"sent_at": time.Now().UTC().Format(time.RFC3339)},
	}
}
