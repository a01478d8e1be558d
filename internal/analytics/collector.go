package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripwell/notify/internal/domain"
)

// realtimeKey is the Redis hash holding the process-wide realtime
// counters. Fields are "<event>", "<event>:<channel>" and
// "<event>:type:<type>".
const realtimeKey = "notify:realtime"

const (
	responseSumField   = "response_minutes_sum"
	responseCountField = "response_count"
)

// Collector records lifecycle transitions: one store update plus a
// realtime counter bump per event. Counter failures are logged, never
// returned; the durable record is the source of truth.
type Collector struct {
	store Store
	rdb   *redis.Client
}

// NewCollector creates a lifecycle collector. rdb may be nil; realtime
// counters are then skipped.
func NewCollector(store Store, rdb *redis.Client) *Collector {
	return &Collector{store: store, rdb: rdb}
}

// RecordSent creates the lifecycle record for one per-channel delivery
// result.
func (c *Collector) RecordSent(ctx context.Context, n *domain.Notification, res *domain.DeliveryResult) error {
	sentAt := time.Now().UTC()

	rec := &domain.NotificationAnalytics{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Type:           n.Type,
		Channel:        res.Channel,
		Status:         res.Status,
		SentAt:         &sentAt,
	}
	if res.Status == domain.StatusDelivered && res.DeliveredAt != nil {
		rec.DeliveredAt = res.DeliveredAt
	}
	if res.Status == domain.StatusFailed {
		rec.FailedAt = &sentAt
		if res.Error != "" {
			rec.EventDetails = map[string]map[string]string{
				string(EventFailed): {"error": res.Error},
			}
		}
	}

	if err := c.store.Create(ctx, rec); err != nil {
		return err
	}

	switch res.Status {
	case domain.StatusFailed:
		c.bump(ctx, EventFailed, res.Channel, n.Type)
	case domain.StatusDelivered:
		c.bump(ctx, EventSent, res.Channel, n.Type)
		c.bump(ctx, EventDelivered, res.Channel, n.Type)
	default:
		c.bump(ctx, EventSent, res.Channel, n.Type)
	}
	return nil
}

// RecordDelivered marks provider-confirmed delivery.
func (c *Collector) RecordDelivered(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time) error {
	return c.record(ctx, notificationID, EventUpdate{Event: EventDelivered, At: at, Status: domain.StatusDelivered}, ch, typ)
}

// RecordOpened marks an open and feeds the response-time running mean.
func (c *Collector) RecordOpened(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time) error {
	if err := c.record(ctx, notificationID, EventUpdate{Event: EventOpened, At: at}, ch, typ); err != nil {
		return err
	}
	c.recordResponseTime(ctx, notificationID)
	return nil
}

// RecordClicked marks a click.
func (c *Collector) RecordClicked(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time, linkURL string) error {
	update := EventUpdate{Event: EventClicked, At: at}
	if linkURL != "" {
		update.Details = map[string]string{"link_url": linkURL}
	}
	return c.record(ctx, notificationID, update, ch, typ)
}

// RecordConverted marks a conversion.
func (c *Collector) RecordConverted(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time) error {
	return c.record(ctx, notificationID, EventUpdate{Event: EventConverted, At: at}, ch, typ)
}

// RecordFailed marks a post-send failure (bounce, provider rejection).
func (c *Collector) RecordFailed(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time, reason string) error {
	update := EventUpdate{Event: EventFailed, At: at, Status: domain.StatusFailed}
	if reason != "" {
		update.Details = map[string]string{"error": reason}
	}
	return c.record(ctx, notificationID, update, ch, typ)
}

// RecordUnsubscribed marks an opt-out.
func (c *Collector) RecordUnsubscribed(ctx context.Context, notificationID string, ch domain.DeliveryChannel, typ domain.NotificationType, at time.Time) error {
	return c.record(ctx, notificationID, EventUpdate{Event: EventUnsubscribed, At: at}, ch, typ)
}

func (c *Collector) record(ctx context.Context, notificationID string, update EventUpdate, ch domain.DeliveryChannel, typ domain.NotificationType) error {
	if err := c.store.UpdateByID(ctx, notificationID, update); err != nil {
		return err
	}
	c.bump(ctx, update.Event, ch, typ)
	return nil
}

// bump increments the event's realtime counters: total, per-channel,
// per-type. Atomic per field; no cross-counter consistency is needed.
func (c *Collector) bump(ctx context.Context, event LifecycleEvent, ch domain.DeliveryChannel, typ domain.NotificationType) {
	if c.rdb == nil {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.HIncrBy(ctx, realtimeKey, string(event), 1)
	pipe.HIncrBy(ctx, realtimeKey, fmt.Sprintf("%s:%s", event, ch), 1)
	pipe.HIncrBy(ctx, realtimeKey, fmt.Sprintf("%s:type:%s", event, typ), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Collector] Realtime counter update failed: %v", err)
	}
}

// recordResponseTime folds opened_at - sent_at into the realtime running
// mean.
func (c *Collector) recordResponseTime(ctx context.Context, notificationID string) {
	if c.rdb == nil {
		return
	}
	// The record was just updated; read it back for both timestamps.
	recs, err := c.store.Query(ctx, domain.AnalyticsFilter{NotificationID: notificationID})
	if err != nil || len(recs) == 0 {
		log.Printf("[Collector] Response time lookup failed for %s: %v", notificationID, err)
		return
	}
	minutes := recs[0].ResponseMinutes()
	if minutes < 0 {
		return
	}

	pipe := c.rdb.Pipeline()
	pipe.HIncrByFloat(ctx, realtimeKey, responseSumField, minutes)
	pipe.HIncrBy(ctx, realtimeKey, responseCountField, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Collector] Response time counter update failed: %v", err)
	}
}

// RealtimeStats is the process-wide counter snapshot.
type RealtimeStats struct {
	Counters            map[string]int64 `json:"counters"`
	AvgResponseMinutes  float64          `json:"avg_response_minutes"`
	ResponseSampleCount int64            `json:"response_sample_count"`
}

// Realtime returns the current counter snapshot.
func (c *Collector) Realtime(ctx context.Context) (*RealtimeStats, error) {
	stats := &RealtimeStats{Counters: make(map[string]int64)}
	if c.rdb == nil {
		return stats, nil
	}

	fields, err := c.rdb.HGetAll(ctx, realtimeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read realtime counters: %w", err)
	}

	var sum float64
	for field, raw := range fields {
		switch field {
		case responseSumField:
			fmt.Sscanf(raw, "%f", &sum)
		case responseCountField:
			fmt.Sscanf(raw, "%d", &stats.ResponseSampleCount)
		default:
			var v int64
			fmt.Sscanf(raw, "%d", &v)
			stats.Counters[field] = v
		}
	}
	if stats.ResponseSampleCount > 0 {
		stats.AvgResponseMinutes = sum / float64(stats.ResponseSampleCount)
	}
	return stats, nil
}
