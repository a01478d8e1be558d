// Package scheduler holds notifications until their optimized send time
// and then pushes them through the delivery manager. The queue is a Redis
// sorted set scored by send time, so due entries survive restarts and are
// shared across workers.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripwell/notify/internal/analytics"
	appconfig "github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/delivery"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/pkg/distlock"
	"github.com/tripwell/notify/internal/pkg/logger"
)

// dispatchBatch caps how many due entries one poll cycle claims.
const dispatchBatch = 50

// lockTTL bounds how long a crashed worker can hold the dispatch lock.
const lockTTL = 30 * time.Second

// Scheduler is the delayed-send loop.
type Scheduler struct {
	rdb       *redis.Client
	manager   *delivery.Manager
	collector *analytics.Collector
	queueKey  string
	interval  time.Duration
	lock      distlock.DistLock

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler.
func New(rdb *redis.Client, manager *delivery.Manager, collector *analytics.Collector, cfg appconfig.SchedulerConfig) *Scheduler {
	return &Scheduler{
		rdb:       rdb,
		manager:   manager,
		collector: collector,
		queueKey:  cfg.QueueKey,
		interval:  cfg.PollInterval(),
		lock:      distlock.NewRedisLock(rdb, cfg.QueueKey+":dispatch", lockTTL),
		done:      make(chan struct{}),
	}
}

// Schedule enqueues a notification for delivery at the given time.
func (s *Scheduler) Schedule(ctx context.Context, n *domain.Notification, at time.Time) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("refusing to schedule invalid notification: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal scheduled notification: %w", err)
	}

	if err := s.rdb.ZAdd(ctx, s.queueKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: string(payload),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue notification %s: %w", n.ID, err)
	}

	logger.Info("notification queued", "notification_id", n.ID, "type", string(n.Type),
		"send_at", at.UTC().Format(time.RFC3339))
	return nil
}

// Pending returns how many notifications are waiting in the queue.
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, s.queueKey).Result()
}

// Start launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("[Scheduler] Dispatch loop started (queue=%s interval=%s)", s.queueKey, s.interval)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the loop and waits for the in-flight cycle to finish.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle takes the dispatch lock so that one worker drains the queue
// per cycle, then delivers everything due.
func (s *Scheduler) runCycle(ctx context.Context) {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		log.Printf("[Scheduler] Dispatch lock unavailable: %v", err)
		return
	}
	if !ok {
		// Another worker holds this cycle.
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			log.Printf("[Scheduler] Dispatch lock release failed: %v", err)
		}
	}()

	if err := s.dispatchDue(ctx, time.Now()); err != nil {
		log.Printf("[Scheduler] Dispatch cycle failed: %v", err)
	}
}

// dispatchDue claims every entry scored at or before now and delivers it.
// ZRem before delivery means a crashed worker drops entries rather than
// double-sending them; send-at-most-once is the contract here.
func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) error {
	members, err := s.rdb.ZRangeByScore(ctx, s.queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: dispatchBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("read due notifications: %w", err)
	}

	for _, member := range members {
		removed, err := s.rdb.ZRem(ctx, s.queueKey, member).Result()
		if err != nil {
			return fmt.Errorf("claim notification: %w", err)
		}
		if removed == 0 {
			// Another worker claimed it first.
			continue
		}

		var n domain.Notification
		if err := json.Unmarshal([]byte(member), &n); err != nil {
			log.Printf("[Scheduler] Dropping malformed queue entry: %v", err)
			continue
		}
		s.deliver(ctx, &n)
	}
	return nil
}

func (s *Scheduler) deliver(ctx context.Context, n *domain.Notification) {
	results := s.manager.Deliver(ctx, n)
	for i := range results {
		if err := s.collector.RecordSent(ctx, n, &results[i]); err != nil {
			logger.Warn("recording delivery failed", "notification_id", n.ID,
				"channel", string(results[i].Channel), "error", err.Error())
		}
	}
	logger.Info("notification dispatched", "notification_id", n.ID,
		"channels", strconv.Itoa(len(results)))
}
