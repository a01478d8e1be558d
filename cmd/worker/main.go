// The worker runs the two background loops: the scheduler that dispatches
// queued notifications at their optimized send time, and the SQS consumer
// that folds engagement events back into analytics and the per-user models.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/tripwell/notify/internal/analytics"
	"github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/delivery"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/ingest"
	"github.com/tripwell/notify/internal/intelligence"
	"github.com/tripwell/notify/internal/pkg/logger"
	"github.com/tripwell/notify/internal/scheduler"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := directory.NewPostgresDirectory(db)
	store := analytics.NewPostgresStore(db)
	collector := analytics.NewCollector(store, rdb)

	hub := delivery.NewHub()
	inbox := delivery.NewPostgresInbox(db)
	manager := delivery.NewManager(
		delivery.NewEmailTransport(cfg.Email, cfg.Delivery, dir),
		delivery.NewSMSTransport(cfg.SMS, cfg.Delivery, dir),
		delivery.NewPushTransport(cfg.Push, cfg.Delivery, dir),
		delivery.NewBrowserTransport(cfg.Browser, cfg.Delivery, dir),
		delivery.NewInAppTransport(cfg.InApp, hub, inbox),
	)
	manager.SetEnabled("email", cfg.Email.Enabled)
	manager.SetEnabled("sms", cfg.SMS.Enabled)
	manager.SetEnabled("push", cfg.Push.Enabled)
	manager.SetEnabled("browser", cfg.Browser.Enabled)
	manager.SetEnabled("in_app", cfg.InApp.Enabled)

	predictor := intelligence.NewPredictor(cfg.Intelligence, intelligence.NewFeatureExtractor())
	timing := intelligence.NewTimingOptimizer(predictor, dir, cfg.Intelligence)

	sched := scheduler.New(rdb, manager, collector, cfg.Scheduler)
	sched.Start(ctx)

	var consumer *ingest.Consumer
	if cfg.Ingest.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Ingest.Region))
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		consumer = ingest.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Ingest.QueueURL,
			store, collector, predictor, timing, dir)
		consumer.Start(ctx)
	} else {
		log.Println("engagement ingest disabled; running scheduler only")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down worker...")

	cancel()
	sched.Stop()
	if consumer != nil {
		consumer.Stop()
	}
}
