// Package ingest receives engagement signals (tracking pixel hits, click
// redirects, provider webhooks), queues them through SQS, and folds them
// back into analytics records, predictor feedback, and send-time models.
package ingest

import (
	"time"

	"github.com/tripwell/notify/internal/domain"
)

// EventType names one ingested engagement signal.
type EventType string

const (
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventConverted    EventType = "converted"
	EventFailed       EventType = "failed"
	EventUnsubscribed EventType = "unsubscribed"
)

// EngagementEvent is the queued wire form of one signal.
type EngagementEvent struct {
	EventType      EventType              `json:"event_type"`
	NotificationID string                 `json:"notification_id"`
	UserID         string                 `json:"user_id"`
	Channel        domain.DeliveryChannel `json:"channel"`
	LinkURL        string                 `json:"link_url,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// engaged reports whether the event is a positive interaction signal
// that should feed predictor learning.
func (e *EngagementEvent) engaged() bool {
	switch e.EventType {
	case EventOpened, EventClicked, EventConverted:
		return true
	}
	return false
}
