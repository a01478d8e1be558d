package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/tripwell/notify/internal/analytics"
	"github.com/tripwell/notify/internal/api"
	"github.com/tripwell/notify/internal/config"
	"github.com/tripwell/notify/internal/delivery"
	"github.com/tripwell/notify/internal/directory"
	"github.com/tripwell/notify/internal/intelligence"
	"github.com/tripwell/notify/internal/pkg/logger"
	"github.com/tripwell/notify/internal/scheduler"
	"github.com/tripwell/notify/internal/storage"
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

	ctx := context.Background()

	dir := directory.NewPostgresDirectory(db)
	store := analytics.NewPostgresStore(db)
	collector := analytics.NewCollector(store, rdb)
	calc := analytics.NewCalculator()

	archive, err := storage.New(ctx, cfg.Reports)
	if err != nil {
		log.Fatalf("report archive: %v", err)
	}
	reporter := analytics.NewReporter(store, calc, archive)

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
	personalizer := intelligence.NewPersonalizer()

	sched := scheduler.New(rdb, manager, collector, cfg.Scheduler)

	handlers := api.NewHandlers(
		manager, sched, personalizer, timing, dir,
		store, calc, reporter, collector,
		hub, inbox, archive,
	)
	srv := api.NewServer(cfg.Server, handlers)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	go func() {
		log.Printf("notification api listening on %s", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down notification api...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
