package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BeatsChainApp/moments-sub000/internal/auth"
	"github.com/BeatsChainApp/moments-sub000/internal/broadcast"
	"github.com/BeatsChainApp/moments-sub000/internal/config"
	"github.com/BeatsChainApp/moments-sub000/internal/database"
	"github.com/BeatsChainApp/moments-sub000/internal/events"
	"github.com/BeatsChainApp/moments-sub000/internal/health"
	"github.com/BeatsChainApp/moments-sub000/internal/moments"
	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
	"github.com/BeatsChainApp/moments-sub000/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if cfg.Env == "development" {
		if err := database.SeedDevData(db); err != nil {
			log.Printf("WARNING: dev seed failed: %v", err)
		}
	}

	if err := worker.InitClient(cfg.RedisURL); err != nil {
		log.Fatalf("task client init failed: %v", err)
	}
	defer worker.CloseClient()

	sender := whatsapp.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken, cfg.WhatsAppStubMode)

	// Lifecycle events are best-effort; a broken publisher only costs the
	// audit feed, never deliveries.
	var sink broadcast.EventSink
	if publisher, err := events.NewPublisher(cfg.RedisURL, logger); err != nil {
		log.Printf("WARNING: event publisher disabled: %v", err)
	} else {
		sink = publisher
		defer publisher.Close()
	}

	bcfg := broadcast.Config{
		BatchSize:          cfg.BroadcastBatchSize,
		MaxAttempts:        cfg.BroadcastMaxAttempts,
		RetryBase:          cfg.BroadcastRetryBase,
		RecipientRate:      cfg.BroadcastRecipientRate,
		DefaultBlastRadius: cfg.DefaultBlastRadius,
		PublicBaseURL:      cfg.PublicBaseURL,
		StaleAfter:         cfg.BroadcastStaleAfter,
	}
	store := broadcast.NewGormStore(db)
	coord := broadcast.NewCoordinator(store, sender, sink, bcfg, logger)
	sweeper := broadcast.NewSweeper(store, worker.EnqueueDeliverBroadcast, bcfg, logger)

	switch cfg.Mode {
	case "worker":
		stopScheduler, err := worker.StartScheduler(cfg)
		if err != nil {
			log.Fatalf("scheduler start failed: %v", err)
		}
		defer stopScheduler()

		// Blocks until shutdown signal
		if err := worker.Run(cfg, coord, sweeper); err != nil {
			log.Fatalf("worker failed: %v", err)
		}

	case "web", "all":
		if cfg.Mode == "all" {
			stopWorker, err := worker.Start(cfg, coord, sweeper)
			if err != nil {
				log.Fatalf("worker start failed: %v", err)
			}
			defer stopWorker()

			stopScheduler, err := worker.StartScheduler(cfg)
			if err != nil {
				log.Fatalf("scheduler start failed: %v", err)
			}
			defer stopScheduler()
		}

		runWeb(cfg, coord, sweeper)

	default:
		log.Fatalf("unknown MODE %q (want web, worker or all)", cfg.Mode)
	}
}

func runWeb(cfg *config.Config, coord *broadcast.Coordinator, sweeper *broadcast.Sweeper) {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.GET("/health", gin.WrapF(health.Handler))

	api := router.Group("/api")
	api.GET("/broadcasts/:id", moments.GetBroadcastStatusHandler(coord))

	admin := api.Group("", auth.RequireAdminToken(cfg.AdminAPIToken))
	admin.POST("/moments/:id/broadcast", moments.TriggerBroadcastHandler(coord, worker.EnqueueDeliverBroadcast))
	admin.POST("/broadcasts/sweep", moments.SweepHandler(sweeper))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on :%s (mode=%s)", cfg.Port, cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
