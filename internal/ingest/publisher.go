package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// publishTimeout bounds the background SQS send.
const publishTimeout = 5 * time.Second

// sqsSender is the publish side of the SQS client surface.
type sqsSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher enqueues engagement events. Publish is fire-and-forget: the
// HTTP tracking path must answer in pixel time, so queue errors are
// logged, never surfaced to the requester.
type Publisher struct {
	client   sqsSender
	queueURL string
}

// NewPublisher creates an SQS-backed event publisher.
func NewPublisher(client sqsSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// Publish serializes the event and sends it on a detached goroutine.
func (p *Publisher) Publish(_ context.Context, evt EngagementEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[Ingest] Marshal engagement event failed: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			log.Printf("[Ingest] SQS publish failed (%s %s): %v", evt.EventType, evt.NotificationID, err)
		}
	}()
}
