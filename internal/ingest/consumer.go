package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tripwell/notify/internal/analytics"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/domain"
	"github.com/tripwell/notify/internal/intelligence"
)

// sqsReceiver is the consume side of the SQS client surface.
type sqsReceiver interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer drains the engagement queue and applies each event three
// ways: lifecycle record update, predictor feedback, and send-time model
// refresh.
type Consumer struct {
	client    sqsReceiver
	queueURL  string
	store     analytics.Store
	collector *analytics.Collector
	predictor *intelligence.Predictor
	timing    *intelligence.TimingOptimizer
	dir       directory.Directory

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConsumer wires a queue consumer.
func NewConsumer(client sqsReceiver, queueURL string, store analytics.Store, collector *analytics.Collector,
	predictor *intelligence.Predictor, timing *intelligence.TimingOptimizer, dir directory.Directory) *Consumer {
	return &Consumer{
		client:    client,
		queueURL:  queueURL,
		store:     store,
		collector: collector,
		predictor: predictor,
		timing:    timing,
		dir:       dir,
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop.
func (c *Consumer) Start(ctx context.Context) {
	log.Printf("[Ingest] Engagement consumer started (queue=%s)", c.queueURL)
	c.wg.Add(1)
	go c.poll(ctx)
}

// Stop signals the loop and waits for it to drain.
func (c *Consumer) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Consumer) poll(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Ingest] SQS receive error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var evt EngagementEvent
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
				log.Printf("[Ingest] Dropping malformed message: %v", err)
				c.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}

			if err := c.Process(ctx, evt); err != nil {
				// Leave the message for redelivery.
				log.Printf("[Ingest] Process error (%s %s): %v", evt.EventType, evt.NotificationID, err)
				continue
			}
			c.deleteMessage(ctx, msg.ReceiptHandle)
		}
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
}

// Process applies one engagement event end to end.
func (c *Consumer) Process(ctx context.Context, evt EngagementEvent) error {
	recs, err := c.store.Query(ctx, domain.AnalyticsFilter{NotificationID: evt.NotificationID})
	if err != nil {
		return fmt.Errorf("lookup lifecycle record: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("no lifecycle record for notification %s", evt.NotificationID)
	}
	rec := recs[0]

	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch evt.EventType {
	case EventDelivered:
		err = c.collector.RecordDelivered(ctx, evt.NotificationID, rec.Channel, rec.Type, at)
	case EventOpened:
		err = c.collector.RecordOpened(ctx, evt.NotificationID, rec.Channel, rec.Type, at)
	case EventClicked:
		err = c.collector.RecordClicked(ctx, evt.NotificationID, rec.Channel, rec.Type, at, evt.LinkURL)
	case EventConverted:
		err = c.collector.RecordConverted(ctx, evt.NotificationID, rec.Channel, rec.Type, at)
	case EventFailed:
		err = c.collector.RecordFailed(ctx, evt.NotificationID, rec.Channel, rec.Type, at, evt.Reason)
	case EventUnsubscribed:
		err = c.collector.RecordUnsubscribed(ctx, evt.NotificationID, rec.Channel, rec.Type, at)
	default:
		log.Printf("[Ingest] Unknown event type %q, dropping", evt.EventType)
		return nil
	}
	if err != nil {
		return err
	}

	c.feedback(ctx, &rec, evt, at)
	return nil
}

// feedback updates the learning side. Feedback failures never block the
// durable record, so everything here only logs.
func (c *Consumer) feedback(ctx context.Context, rec *domain.NotificationAnalytics, evt EngagementEvent, at time.Time) {
	if rec.SentAt == nil {
		return
	}

	engaged := evt.engaged()
	if !engaged && evt.EventType != EventUnsubscribed {
		return
	}

	behavior, err := c.dir.Behavior(ctx, rec.UserID)
	if err != nil {
		log.Printf("[Ingest] Behavior lookup failed for %s: %v", rec.UserID, err)
		behavior = nil
	}

	responseMinutes := at.Sub(*rec.SentAt).Minutes()
	if responseMinutes < 0 {
		responseMinutes = 0
	}
	c.predictor.LearnFromFeedback(behavior, rec.Type, rec.Channel, *rec.SentAt, engaged, responseMinutes)

	// Opens also refresh the user's stored timing model.
	if evt.EventType == EventOpened && c.timing != nil {
		events, err := c.store.Query(ctx, domain.AnalyticsFilter{UserID: rec.UserID})
		if err != nil {
			log.Printf("[Ingest] Event history lookup failed for %s: %v", rec.UserID, err)
			return
		}
		if err := c.timing.UpdateUserModel(ctx, rec.UserID, events); err != nil {
			log.Printf("[Ingest] Timing model update failed for %s: %v", rec.UserID, err)
		}
	}
}
