package domain

import (
	"math"
	"time"
)

// NotificationAnalytics is the lifecycle record of one notification.
// Exactly one logical record exists per notification id; it is created at
// "sent" and updated forward as later lifecycle events are observed.
// Event timestamps, once set, are never overwritten with an earlier time.
type NotificationAnalytics struct {
	NotificationID string                       `json:"notification_id"`
	UserID         string                       `json:"user_id"`
	Type           NotificationType             `json:"type"`
	Channel        DeliveryChannel              `json:"channel"`
	Status         DeliveryStatus               `json:"status"`
	SentAt         *time.Time                   `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time                   `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time                   `json:"opened_at,omitempty"`
	ClickedAt      *time.Time                   `json:"clicked_at,omitempty"`
	ConvertedAt    *time.Time                   `json:"converted_at,omitempty"`
	FailedAt       *time.Time                   `json:"failed_at,omitempty"`
	UnsubscribedAt *time.Time                   `json:"unsubscribed_at,omitempty"`
	EventDetails   map[string]map[string]string `json:"event_details,omitempty"` // event -> detail map
}

// Opened reports whether the notification was ever opened.
func (a *NotificationAnalytics) Opened() bool { return a.OpenedAt != nil }

// ResponseMinutes returns opened_at - sent_at in minutes, or -1 when
// either timestamp is missing.
func (a *NotificationAnalytics) ResponseMinutes() float64 {
	if a.SentAt == nil || a.OpenedAt == nil {
		return -1
	}
	return a.OpenedAt.Sub(*a.SentAt).Minutes()
}

// AnalyticsFilter narrows which lifecycle records a query returns.
// Zero values mean "no constraint".
type AnalyticsFilter struct {
	NotificationID string           `json:"notification_id,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	Channel        DeliveryChannel  `json:"channel,omitempty"`
	Type           NotificationType `json:"type,omitempty"`
	From           time.Time        `json:"from,omitempty"`
	To             time.Time        `json:"to,omitempty"`
}

// EngagementMetrics is computed from NotificationAnalytics records over a
// window; it is never stored as a primary entity. Rates are in [0,1] and
// EngagementScore is in [0,100].
type EngagementMetrics struct {
	SentCount       int       `json:"sent_count"`
	DeliveredCount  int       `json:"delivered_count"`
	OpenedCount     int       `json:"opened_count"`
	ClickedCount    int       `json:"clicked_count"`
	ConvertedCount  int       `json:"converted_count"`
	DeliveryRate    float64   `json:"delivery_rate"`
	OpenRate        float64   `json:"open_rate"`
	ClickRate       float64   `json:"click_rate"`
	ConversionRate  float64   `json:"conversion_rate"`
	EngagementScore float64   `json:"engagement_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

// PerformanceReport is an immutable generated snapshot of engagement over
// a time range.
type PerformanceReport struct {
	ID          string                                 `json:"id"`
	From        time.Time                              `json:"from"`
	To          time.Time                              `json:"to"`
	Overall     EngagementMetrics                      `json:"overall"`
	ByChannel   map[DeliveryChannel]EngagementMetrics  `json:"by_channel"`
	ByType      map[NotificationType]EngagementMetrics `json:"by_type"`
	Insights    []string                               `json:"insights"`
	TimeSeries  map[string]EngagementMetrics           `json:"time_series,omitempty"` // bucket label -> metrics
	GeneratedAt time.Time                              `json:"generated_at"`
}

// Clamp01 bounds v to [0,1]. NaN collapses to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
