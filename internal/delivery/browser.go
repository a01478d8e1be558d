package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
)

// BrowserTransport sends browser push notifications, fanning out to every
// push subscription registered for the user. Aggregation semantics match
// the mobile push transport: SENT if any subscription succeeded.
type BrowserTransport struct {
	cfg      appconfig.BrowserConfig
	dir      directory.Directory
	retry    bool
	backoff  time.Duration
	tracking string
	client   *http.Client
}

// NewBrowserTransport creates a browser push transport.
func NewBrowserTransport(cfg appconfig.BrowserConfig, del appconfig.DeliveryConfig, dir directory.Directory) *BrowserTransport {
	return &BrowserTransport{
		cfg:      cfg,
		dir:      dir,
		retry:    del.RetryTransient,
		backoff:  del.Backoff(),
		tracking: del.TrackingBaseURL,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}
}

// Channel returns the browser push channel.
func (t *BrowserTransport) Channel() domain.DeliveryChannel { return domain.ChannelBrowser }

// ValidateConfig reports whether the provider credentials are present.
func (t *BrowserTransport) ValidateConfig() bool {
	return t.cfg.BaseURL != "" && t.cfg.APIKey != ""
}

// Send fans the notification out to all of the user's push subscriptions.
func (t *BrowserTransport) Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult {
	if !t.ValidateConfig() {
		return domain.FailedResult(n.ID, domain.ChannelBrowser, "browser transport not configured")
	}

	addr, err := t.dir.Addresses(ctx, n.UserID)
	if err != nil {
		return domain.FailedResult(n.ID, domain.ChannelBrowser, fmt.Sprintf("resolve address: %v", err))
	}
	if len(addr.PushSubscriptions) == 0 {
		return domain.FailedResult(n.ID, domain.ChannelBrowser, fmt.Sprintf("no push subscriptions for user %s", n.UserID))
	}

	return fanOutTargets(t, ctx, n, addr.PushSubscriptions, domain.ChannelBrowser)
}

// sendTarget performs one provider call for one push subscription.
func (t *BrowserTransport) sendTarget(ctx context.Context, n *domain.Notification, subscription string) (string, int, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"subscription": subscription,
		"title":        n.Content.Subject,
		"body":         n.Content.Body,
		"icon":         n.Content.ImageURL,
		"url":          trackedActionURL(t.tracking, n, domain.ChannelBrowser),
		"tag":          n.ID,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.cfg.BaseURL+"/push", bytes.NewBuffer(payload))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", resp.StatusCode, fmt.Errorf("browser push error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	json.Unmarshal(respBody, &parsed)
	return parsed.MessageID, resp.StatusCode, nil
}

func (t *BrowserTransport) retryTransient() (bool, time.Duration) { return t.retry, t.backoff }
