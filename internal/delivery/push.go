package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/pkg/logger"
)

// PushTransport sends mobile push notifications, fanning out to every
// device token registered for the user. The attempt counts as SENT if at
// least one token succeeded; it is FAILED only when every token failed.
type PushTransport struct {
	cfg      appconfig.PushConfig
	dir      directory.Directory
	retry    bool
	backoff  time.Duration
	tracking string
	client   *http.Client
}

// NewPushTransport creates a mobile push transport.
func NewPushTransport(cfg appconfig.PushConfig, del appconfig.DeliveryConfig, dir directory.Directory) *PushTransport {
	return &PushTransport{
		cfg:      cfg,
		dir:      dir,
		retry:    del.RetryTransient,
		backoff:  del.Backoff(),
		tracking: del.TrackingBaseURL,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}
}

// Channel returns the push channel.
func (t *PushTransport) Channel() domain.DeliveryChannel { return domain.ChannelPush }

// ValidateConfig reports whether the provider credentials are present.
func (t *PushTransport) ValidateConfig() bool {
	return t.cfg.BaseURL != "" && t.cfg.APIKey != ""
}

// Send fans the notification out to all of the user's device tokens.
func (t *PushTransport) Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult {
	if !t.ValidateConfig() {
		return domain.FailedResult(n.ID, domain.ChannelPush, "push transport not configured")
	}

	addr, err := t.dir.Addresses(ctx, n.UserID)
	if err != nil {
		return domain.FailedResult(n.ID, domain.ChannelPush, fmt.Sprintf("resolve address: %v", err))
	}
	if len(addr.DeviceTokens) == 0 {
		return domain.FailedResult(n.ID, domain.ChannelPush, fmt.Sprintf("no device tokens for user %s", n.UserID))
	}

	return fanOutTargets(t, ctx, n, addr.DeviceTokens, domain.ChannelPush)
}

// sendTarget performs one provider call for one device token.
func (t *PushTransport) sendTarget(ctx context.Context, n *domain.Notification, token string) (string, int, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"token": token,
		"notification": map[string]string{
			"title": n.Content.Subject,
			"body":  n.Content.Body,
			"image": n.Content.ImageURL,
		},
		"data": map[string]string{
			"notification_id": n.ID,
			"type":            string(n.Type),
			"action_url":      trackedActionURL(t.tracking, n, domain.ChannelPush),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.cfg.BaseURL+"/send", bytes.NewBuffer(payload))
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
		return "", resp.StatusCode, fmt.Errorf("push provider error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	json.Unmarshal(respBody, &parsed)
	return parsed.MessageID, resp.StatusCode, nil
}

func (t *PushTransport) retryTransient() (bool, time.Duration) { return t.retry, t.backoff }

// targetSender is implemented by the push and browser transports, which
// share fan-out semantics over multiple per-user targets.
type targetSender interface {
	sendTarget(ctx context.Context, n *domain.Notification, target string) (string, int, error)
	retryTransient() (bool, time.Duration)
}

// fanOutTargets sends to every target and aggregates the sub-results:
// SENT if at least one target succeeded (tracking info records the
// success/total ratio), FAILED only if all targets failed.
func fanOutTargets(s targetSender, ctx context.Context, n *domain.Notification, targets []string, ch domain.DeliveryChannel) *domain.DeliveryResult {
	var firstID, lastErr string
	succeeded := 0

	for _, target := range targets {
		id, status, err := s.sendTarget(ctx, n, target)
		if err != nil {
			if retry, backoff := s.retryTransient(); retry && (status == 0 || retryableStatus(status)) && sleepBackoff(ctx, backoff) {
				id, _, err = s.sendTarget(ctx, n, target)
			}
		}
		if err != nil {
			lastErr = err.Error()
			logger.Warn("target send failed", "channel", ch, "token", target, "notification_id", n.ID, "error", err.Error())
			continue
		}
		succeeded++
		if firstID == "" {
			firstID = id
		}
	}

	if succeeded == 0 {
		return domain.FailedResult(n.ID, ch, fmt.Sprintf("all %d targets failed: %s", len(targets), lastErr))
	}

	result := sentResult(n.ID, ch, firstID)
	result.TrackingInfo["targets_succeeded"] = strconv.Itoa(succeeded)
	result.TrackingInfo["targets_total"] = strconv.Itoa(len(targets))
	if lastErr != "" {
		result.TrackingInfo["last_target_error"] = lastErr
	}
	logger.Info("fan-out complete", "channel", ch, "notification_id", n.ID,
		"targets_succeeded", strconv.Itoa(succeeded), "targets_total", strconv.Itoa(len(targets)))
	return result
}
