package domain

import "time"

// DeliveryChannel identifies one delivery medium.
type DeliveryChannel string

const (
	ChannelEmail   DeliveryChannel = "email"
	ChannelSMS     DeliveryChannel = "sms"
	ChannelPush    DeliveryChannel = "push"
	ChannelInApp   DeliveryChannel = "in_app"
	ChannelBrowser DeliveryChannel = "browser"
)

// AllChannels lists every channel the platform knows about, in the order
// transports are registered at startup.
var AllChannels = []DeliveryChannel{
	ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelBrowser,
}

// IsValid reports whether c is one of the known delivery channels.
func (c DeliveryChannel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelBrowser:
		return true
	}
	return false
}

// DeliveryStatus is the outcome classification of one delivery attempt.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
)

// DeliveryResult is the outcome of one channel attempt for one notification.
// Created once per attempt and never mutated; a retry produces a new result.
type DeliveryResult struct {
	NotificationID string            `json:"notification_id"`
	Channel        DeliveryChannel   `json:"channel"`
	Status         DeliveryStatus    `json:"status"`
	ProviderID     string            `json:"provider_id,omitempty"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	Error          string            `json:"error,omitempty"`
	TrackingInfo   map[string]string `json:"tracking_info,omitempty"`
}

// FailedResult builds a FAILED DeliveryResult with an error message.
// Transports use this to convert provider and address-resolution errors
// into values instead of raising to the delivery manager.
func FailedResult(notificationID string, ch DeliveryChannel, msg string) *DeliveryResult {
	return &DeliveryResult{
		NotificationID: notificationID,
		Channel:        ch,
		Status:         StatusFailed,
		Error:          msg,
	}
}
