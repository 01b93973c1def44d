package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailgraph/mailgraph/internal/config"
	"github.com/mailgraph/mailgraph/internal/database"
	"github.com/mailgraph/mailgraph/internal/graph"
	"github.com/mailgraph/mailgraph/internal/handler"
	"github.com/mailgraph/mailgraph/internal/logger"
	"github.com/mailgraph/mailgraph/internal/middleware"
	"github.com/mailgraph/mailgraph/internal/repository"
	"github.com/mailgraph/mailgraph/internal/router"
	"github.com/mailgraph/mailgraph/internal/service"
	"github.com/mailgraph/mailgraph/internal/smtp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting MailGraph server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	rdb, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("connected to Redis")

	// Initialize repositories
	transportRepo := repository.NewTransportRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	apiLogRepo := repository.NewAPILogRepository(db)

	// Initialize Graph components
	tokenMgr := graph.NewTokenManager(transportRepo, cfg.Graph, log)
	graphClient := graph.NewClient(cfg.Graph, log)

	// SMTP relay is optional; without a host the fallback path reports
	// failures instead of relaying.
	var smtpSender smtp.Sender
	if cfg.SMTP.Host != "" {
		smtpSender = smtp.NewRelaySender(cfg.SMTP, log)
		log.Info().Str("relay", cfg.SMTP.Addr()).Msg("SMTP fallback enabled")
	}

	// Initialize services
	dispatcher := service.NewDispatcher(transportRepo, messageRepo, apiLogRepo, tokenMgr, graphClient, smtpSender, cfg.Queue, log)
	oauthSvc := service.NewOAuthService(transportRepo, graphClient, cfg, log)

	// Initialize handlers
	h := handler.New(db, rdb, log, cfg, transportRepo, messageRepo, apiLogRepo, dispatcher, oauthSvc, tokenMgr, graphClient)

	// Initialize middleware
	mw := middleware.New(rdb, log, cfg)

	// Set up router
	r := router.New(h, mw)

	// Background queue processing
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	if cfg.Queue.Interval > 0 {
		go runQueueLoop(queueCtx, dispatcher, cfg.Queue.Interval, log)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stopQueue()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// runQueueLoop scans the outbound queue at a fixed interval. Each scan is
// bounded so a hung provider cannot stall the next tick indefinitely.
func runQueueLoop(ctx context.Context, d *service.Dispatcher, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanCtx, cancel := context.WithTimeout(ctx, interval)
			sent, err := d.ProcessQueue(scanCtx)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("queue scan failed")
				continue
			}
			if sent > 0 {
				log.Info().Int("sent", sent).Msg("queue scan completed")
			}
		}
	}
}
