package domain

import (
	"fmt"
	"time"
)

// NotificationType identifies the kind of outbound communication.
type NotificationType string

const (
	TypeBookingConfirmation NotificationType = "booking_confirmation"
	TypeSafetyAlert         NotificationType = "safety_alert"
	TypeWeatherAlert        NotificationType = "weather_alert"
	TypeTravelReminder      NotificationType = "travel_reminder"
	TypePriceDropAlert      NotificationType = "price_drop_alert"
	TypeRecommendation      NotificationType = "personalized_recommendation"
	TypeSocialActivity      NotificationType = "social_activity"
	TypePromotional         NotificationType = "promotional"
)

// IsValid reports whether t is one of the known notification types.
func (t NotificationType) IsValid() bool {
	switch t {
	case TypeBookingConfirmation, TypeSafetyAlert, TypeWeatherAlert,
		TypeTravelReminder, TypePriceDropAlert, TypeRecommendation,
		TypeSocialActivity, TypePromotional:
		return true
	}
	return false
}

// NotificationContent is the renderable payload of a notification.
// Subject and Body are required; everything else is optional dressing.
type NotificationContent struct {
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body"`
	HTMLBody    string                 `json:"html_body,omitempty"`
	ImageURL    string                 `json:"image_url,omitempty"`
	ActionURL   string                 `json:"action_url,omitempty"`
	ActionText  string                 `json:"action_text,omitempty"`
	Attachments []string               `json:"attachments,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Notification is one unit of outbound communication. Immutable once
// created; lifecycle status lives in NotificationAnalytics, not here.
type Notification struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Type      NotificationType    `json:"type"`
	Content   NotificationContent `json:"content"`
	Channels  []DeliveryChannel   `json:"channels"`
	CreatedAt time.Time           `json:"created_at"`
}

// Validate checks structural integrity of a notification before it enters
// the delivery pipeline.
func (n *Notification) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	if n.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
	if len(n.Channels) == 0 {
		return fmt.Errorf("at least one delivery channel is required")
	}
	for _, ch := range n.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("unknown delivery channel %q", ch)
		}
	}
	if n.Content.Subject == "" && n.Content.Body == "" {
		return fmt.Errorf("notification content is empty")
	}
	return nil
}

// HasChannel reports whether ch is in the notification's requested set.
func (n *Notification) HasChannel(ch DeliveryChannel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
