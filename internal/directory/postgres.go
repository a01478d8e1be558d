package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tripwell/notify/internal/domain"
)

// PostgresDirectory reads user contact data and behavior snapshots from
// the platform's user database.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a Postgres-backed directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Addresses returns the channel identifiers for a user.
func (d *PostgresDirectory) Addresses(ctx context.Context, userID string) (*ChannelAddresses, error) {
	addr := &ChannelAddresses{UserID: userID}

	var email, phone sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT email, phone
		FROM users
		WHERE id = $1
	`, userID).Scan(&email, &phone)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	addr.Email = email.String
	addr.Phone = phone.String

	err = d.db.QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(token) FILTER (WHERE kind = 'device'), '{}'),
		       COALESCE(array_agg(token) FILTER (WHERE kind = 'browser'), '{}')
		FROM user_push_targets
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID).Scan(pq.Array(&addr.DeviceTokens), pq.Array(&addr.PushSubscriptions))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query push targets: %w", err)
	}

	return addr, nil
}

// Behavior returns the user's engagement snapshot. Unknown users get a
// zero-history snapshot so prediction falls back to neutral defaults.
func (d *PostgresDirectory) Behavior(ctx context.Context, userID string) (*domain.UserBehaviorData, error) {
	b := &domain.UserBehaviorData{
		UserID:          userID,
		Timezone:        "UTC",
		EngagementRates: map[domain.DeliveryChannel]float64{},
		ResponseTimes:   map[domain.DeliveryChannel]float64{},
	}

	var tz sql.NullString
	var activeHours []int64
	var preferred []string
	var ratesJSON, responseJSON []byte
	var lastActive sql.NullTime

	err := d.db.QueryRowContext(ctx, `
		SELECT timezone, active_hours, preferred_channels,
		       engagement_rates, response_times, last_active_at
		FROM user_behavior
		WHERE user_id = $1
	`, userID).Scan(&tz, pq.Array(&activeHours), pq.Array(&preferred),
		&ratesJSON, &responseJSON, &lastActive)
	if err == sql.ErrNoRows {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query behavior: %w", err)
	}

	if tz.Valid && tz.String != "" {
		b.Timezone = tz.String
	}
	for _, h := range activeHours {
		b.ActiveHours = append(b.ActiveHours, int(h))
	}
	for _, c := range preferred {
		ch := domain.DeliveryChannel(c)
		if ch.IsValid() {
			b.PreferredChannels = append(b.PreferredChannels, ch)
		}
	}
	if len(ratesJSON) > 0 {
		json.Unmarshal(ratesJSON, &b.EngagementRates)
	}
	if len(responseJSON) > 0 {
		json.Unmarshal(responseJSON, &b.ResponseTimes)
	}
	if lastActive.Valid {
		b.LastActive = lastActive.Time
	}

	return b, nil
}

// SaveBehavior upserts a user's behavior snapshot.
func (d *PostgresDirectory) SaveBehavior(ctx context.Context, b *domain.UserBehaviorData) error {
	hours := make([]int64, len(b.ActiveHours))
	for i, h := range b.ActiveHours {
		hours[i] = int64(h)
	}
	channels := make([]string, len(b.PreferredChannels))
	for i, c := range b.PreferredChannels {
		channels[i] = string(c)
	}

	ratesJSON, _ := json.Marshal(b.EngagementRates)
	responseJSON, _ := json.Marshal(b.ResponseTimes)

	var lastActive interface{}
	if !b.LastActive.IsZero() {
		lastActive = b.LastActive
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO user_behavior (
			user_id, timezone, active_hours, preferred_channels,
			engagement_rates, response_times, last_active_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			active_hours = EXCLUDED.active_hours,
			preferred_channels = EXCLUDED.preferred_channels,
			engagement_rates = EXCLUDED.engagement_rates,
			response_times = EXCLUDED.response_times,
			last_active_at = EXCLUDED.last_active_at,
			updated_at = EXCLUDED.updated_at
	`, b.UserID, b.Timezone, pq.Array(hours), pq.Array(channels),
		ratesJSON, responseJSON, lastActive, time.Now())
	if err != nil {
		return fmt.Errorf("save behavior: %w", err)
	}
	return nil
}
