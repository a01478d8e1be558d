// Package analytics records notification lifecycle events and aggregates
// them into engagement metrics and performance reports. One lifecycle
// record exists per notification id; it is created at "sent" and updated
// forward as later events arrive.
package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tripwell/notify/internal/domain"
)

// LifecycleEvent names one observable transition of a notification.
type LifecycleEvent string

const (
	EventSent         LifecycleEvent = "sent"
	EventDelivered    LifecycleEvent = "delivered"
	EventOpened       LifecycleEvent = "opened"
	EventClicked      LifecycleEvent = "clicked"
	EventConverted    LifecycleEvent = "converted"
	EventFailed       LifecycleEvent = "failed"
	EventUnsubscribed LifecycleEvent = "unsubscribed"
)

// eventColumns whitelists the timestamp column per event. Column names
// never come from caller input.
var eventColumns = map[LifecycleEvent]string{
	EventDelivered:    "delivered_at",
	EventOpened:       "opened_at",
	EventClicked:      "clicked_at",
	EventConverted:    "converted_at",
	EventFailed:       "failed_at",
	EventUnsubscribed: "unsubscribed_at",
}

// EventUpdate is one forward lifecycle update applied to an existing
// record.
type EventUpdate struct {
	Event   LifecycleEvent
	At      time.Time
	Status  domain.DeliveryStatus // optional status transition
	Details map[string]string     // optional event detail payload
}

// Store is the persistence collaborator for lifecycle records.
type Store interface {
	// Create inserts the record for a notification id, or refreshes the
	// sent state if the id already exists.
	Create(ctx context.Context, rec *domain.NotificationAnalytics) error
	// UpdateByID applies one lifecycle event to an existing record.
	// Timestamps only move forward; an update carrying an earlier time
	// than the stored one leaves the stored value in place.
	UpdateByID(ctx context.Context, notificationID string, update EventUpdate) error
	// Query returns records matching the filter, newest sent first.
	Query(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.NotificationAnalytics, error)
}

// PostgresStore persists lifecycle records in the notification_analytics
// table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed analytics store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *domain.NotificationAnalytics) error {
	details, err := marshalDetails(rec.EventDetails)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_analytics
			(notification_id, user_id, type, channel, status, sent_at, delivered_at, failed_at, event_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (notification_id) DO UPDATE SET
			status = EXCLUDED.status,
			sent_at = GREATEST(notification_analytics.sent_at, EXCLUDED.sent_at),
			event_details = EXCLUDED.event_details
	`, rec.NotificationID, rec.UserID, rec.Type, rec.Channel, rec.Status, rec.SentAt, rec.DeliveredAt, rec.FailedAt, details)
	if err != nil {
		return fmt.Errorf("insert analytics record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateByID(ctx context.Context, notificationID string, update EventUpdate) error {
	column, ok := eventColumns[update.Event]
	if !ok {
		return fmt.Errorf("unknown lifecycle event %q", update.Event)
	}

	sets := []string{
		// GREATEST keeps the stored timestamp when the update is older.
		fmt.Sprintf("%s = GREATEST(COALESCE(%s, $2), $2)", column, column),
	}
	args := []interface{}{notificationID, update.At}

	if update.Status != "" {
		args = append(args, update.Status)
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(update.Details) > 0 {
		detail, err := json.Marshal(update.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		args = append(args, string(update.Event), string(detail))
		sets = append(sets, fmt.Sprintf(
			"event_details = COALESCE(event_details, '{}'::jsonb) || jsonb_build_object($%d::text, $%d::jsonb)",
			len(args)-1, len(args)))
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"UPDATE notification_analytics SET %s WHERE notification_id = $1",
		strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update analytics record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no analytics record for notification %s", notificationID)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.NotificationAnalytics, error) {
	query := `
		SELECT notification_id, user_id, type, channel, status,
		       sent_at, delivered_at, opened_at, clicked_at, converted_at,
		       failed_at, unsubscribed_at, event_details
		FROM notification_analytics
		WHERE 1=1`
	var args []interface{}

	if filter.NotificationID != "" {
		args = append(args, filter.NotificationID)
		query += fmt.Sprintf(" AND notification_id = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		query += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND sent_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND sent_at <= $%d", len(args))
	}
	query += " ORDER BY sent_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analytics records: %w", err)
	}
	defer rows.Close()

	var out []domain.NotificationAnalytics
	for rows.Next() {
		var rec domain.NotificationAnalytics
		var details sql.NullString
		if err := rows.Scan(
			&rec.NotificationID, &rec.UserID, &rec.Type, &rec.Channel, &rec.Status,
			&rec.SentAt, &rec.DeliveredAt, &rec.OpenedAt, &rec.ClickedAt, &rec.ConvertedAt,
			&rec.FailedAt, &rec.UnsubscribedAt, &details,
		); err != nil {
			return nil, fmt.Errorf("scan analytics record: %w", err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &rec.EventDetails); err != nil {
				return nil, fmt.Errorf("decode event details for %s: %w", rec.NotificationID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalDetails(details map[string]map[string]string) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("marshal event details: %w", err)
	}
	return string(b), nil
}
