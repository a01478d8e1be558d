// The ingest service terminates engagement traffic: tracking pixels,
// click redirects, unsubscribe links, and provider webhooks. It does no
// processing of its own; every event is published to SQS for the worker.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/tripwell/notify/internal/ingest"
	"github.com/tripwell/notify/internal/pkg/logger"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	queueURL := os.Getenv("SQS_ENGAGEMENT_QUEUE_URL")
	if queueURL == "" {
		log.Fatal("SQS_ENGAGEMENT_QUEUE_URL is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}

	pub := ingest.NewPublisher(sqs.NewFromConfig(awsCfg), queueURL)
	handler := ingest.NewHandler(pub)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("ingest service listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down ingest service...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
