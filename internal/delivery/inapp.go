package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/domain"
)

// InboxStore persists in-app notifications for later retrieval when the
// user has no live session.
type InboxStore interface {
	Save(ctx context.Context, n *domain.Notification) error
	List(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
}

// InAppTransport delivers notifications inside the Tripwell app. It tries
// a live hub delivery first; when the user has no live session (or the
// live attempt reaches nobody) it falls back to the persisted inbox.
// The fallback can be disabled in config.
type InAppTransport struct {
	cfg   appconfig.InAppConfig
	hub   *Hub
	inbox InboxStore
}

// NewInAppTransport creates an in-app transport.
func NewInAppTransport(cfg appconfig.InAppConfig, hub *Hub, inbox InboxStore) *InAppTransport {
	return &InAppTransport{cfg: cfg, hub: hub, inbox: inbox}
}

// Channel returns the in-app channel.
func (t *InAppTransport) Channel() domain.DeliveryChannel { return domain.ChannelInApp }

// ValidateConfig reports whether the transport can deliver at all.
func (t *InAppTransport) ValidateConfig() bool {
	return t.hub != nil && (t.inbox != nil || !t.cfg.FallbackToInbox)
}

// Send attempts live delivery, then the inbox fallback.
func (t *InAppTransport) Send(ctx context.Context, n *domain.Notification) *domain.DeliveryResult {
	if t.hub != nil && t.hub.Connected(n.UserID) {
		if delivered := t.hub.Publish(n.UserID, n); delivered > 0 {
			now := time.Now().UTC()
			result := sentResult(n.ID, domain.ChannelInApp, "")
			result.Status = domain.StatusDelivered
			result.DeliveredAt = &now
			result.TrackingInfo["live_sessions"] = fmt.Sprintf("%d", delivered)
			log.Printf("[InApp] Live-delivered %s to %d sessions", n.ID, delivered)
			return result
		}
	}

	if !t.cfg.FallbackToInbox {
		return domain.FailedResult(n.ID, domain.ChannelInApp, fmt.Sprintf("no live session for user %s and inbox fallback disabled", n.UserID))
	}
	if t.inbox == nil {
		return domain.FailedResult(n.ID, domain.ChannelInApp, "inbox store not configured")
	}

	if err := t.inbox.Save(ctx, n); err != nil {
		return domain.FailedResult(n.ID, domain.ChannelInApp, fmt.Sprintf("inbox save: %v", err))
	}

	result := sentResult(n.ID, domain.ChannelInApp, "")
	result.TrackingInfo["fallback"] = "inbox"
	log.Printf("[InApp] Stored %s in inbox for user %s", n.ID, n.UserID)
	return result
}

// PostgresInbox is the Postgres-backed inbox fallback store.
type PostgresInbox struct {
	db *sql.DB
}

// NewPostgresInbox creates a Postgres inbox store.
func NewPostgresInbox(db *sql.DB) *PostgresInbox {
	return &PostgresInbox{db: db}
}

// Save persists one notification for later retrieval.
func (s *PostgresInbox) Save(ctx context.Context, n *domain.Notification) error {
	content, err := json.Marshal(n.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inapp_inbox (notification_id, user_id, type, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (notification_id) DO NOTHING
	`, n.ID, n.UserID, string(n.Type), content, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert inbox row: %w", err)
	}
	return nil
}

// List returns the user's most recent inbox notifications.
func (s *PostgresInbox) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT notification_id, user_id, type, content, created_at
		FROM inapp_inbox
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var typ string
		var content []byte
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &content, &n.CreatedAt); err != nil {
			continue
		}
		n.Type = domain.NotificationType(typ)
		n.Channels = []domain.DeliveryChannel{domain.ChannelInApp}
		json.Unmarshal(content, &n.Content)
		out = append(out, n)
	}
	return out, rows.Err()
}
