package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/pkg/logger"
)

// smsMaxLength is the single-segment SMS body limit. Longer bodies are
// truncated with an ellipsis rather than split into segments.
const smsMaxLength = 160

// SMSTransport sends SMS notifications through the platform's SMS gateway
// JSON API.
type SMSTransport struct {
	cfg     appconfig.SMSConfig
	dir     directory.Directory
	retry   bool
	backoff time.Duration
	client  *http.Client
}

// NewSMSTransport creates an SMS transport.
func NewSMSTransport(cfg appconfig.SMSConfig, del appconfig.DeliveryConfig, dir directory.Directory) *SMSTransport {
	return &SMSTransport{
		cfg:     cfg,
		dir:     dir,
		retry:   del.RetryTransient,
		backoff: del.Backoff(),
		client:  &http.Client{Timeout: cfg.Timeout()},
	}
}

// Channel returns the SMS channel.
func (t *SMSTransport) Channel() domain.DeliveryChannel { return domain.ChannelSMS }

// ValidateConfig reports whether the gateway credentials are present.
func (t *SMSTransport) ValidateConfig() bool {
	return t.cfg.BaseURL != "" && t.cfg.APIKey != "" && t.cfg.FromNumber != ""
}

// Send delivers one notification to the user's phone number.
func (t *SMSTransport) Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult {
	if !t.ValidateConfig() {
		return domain.FailedResult(n.ID, domain.ChannelSMS, "sms transport not configured")
	}

	addr, err := t.dir.Addresses(ctx, n.UserID)
	if err != nil {
		return domain.FailedResult(n.ID, domain.ChannelSMS, fmt.Sprintf("resolve address: %v", err))
	}
	if addr.Phone == "" {
		return domain.FailedResult(n.ID, domain.ChannelSMS, fmt.Sprintf("no phone number for user %s", n.UserID))
	}

	body := n.Content.Subject
	if body == "" {
		body = n.Content.Body
	} else if n.Content.Body != "" {
		body = body + ": " + n.Content.Body
	}
	body = truncateSMS(body)

	providerID, status, err := t.post(ctx, addr.Phone, body)
	if err != nil && t.retry && (status == 0 || retryableStatus(status)) && sleepBackoff(ctx, t.backoff) {
		providerID, _, err = t.post(ctx, addr.Phone, body)
	}
	if err != nil {
		logger.Error("sms send failed", "notification_id", n.ID, "phone", addr.Phone, "error", err.Error())
		return domain.FailedResult(n.ID, domain.ChannelSMS, err.Error())
	}

	logger.Info("sms sent", "notification_id", n.ID, "phone", addr.Phone, "provider_id", providerID)
	return sentResult(n.ID, domain.ChannelSMS, providerID)
}

// truncateSMS caps the body at the single-segment limit, cutting on a
// rune boundary so a multi-byte character at the edge is never split.
func truncateSMS(body string) string {
	if utf8.RuneCountInString(body) <= smsMaxLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:smsMaxLength-3]) + "..."
}

// post performs one gateway call. Returns the provider message id, the
// HTTP status (0 for network errors), and an error on failure.
func (t *SMSTransport) post(ctx context.Context, to, body string) (string, int, error) {
	payload, err := json.Marshal(map[string]string{
		"to":   to,
		"from": t.cfg.FromNumber,
		"body": body,
	})
	if err != nil {
		return "", 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.cfg.BaseURL+"/messages", bytes.NewBuffer(payload))
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
		return "", resp.StatusCode, fmt.Errorf("sms gateway error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.MessageID != "" {
		return parsed.MessageID, resp.StatusCode, nil
	}
	return uuid.New().String(), resp.StatusCode, nil
}
