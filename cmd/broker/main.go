package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"hookbridge/internal/api"
	"hookbridge/internal/api/handlers"
	"hookbridge/internal/api/middleware"
	"hookbridge/internal/control"
	"hookbridge/internal/engine/filter"
	"hookbridge/internal/engine/pipeline"
	"hookbridge/internal/engine/sessions"
	"hookbridge/internal/engine/tunnel"
	"hookbridge/internal/pkg/logger"
	"hookbridge/internal/platform/config"
	"hookbridge/internal/platform/database"
	"hookbridge/internal/platform/secrets"
	"hookbridge/internal/platform/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		stdlog.Fatalf("Failed to open database: %v", err)
	}

	st, err := store.New(db)
	if err != nil {
		stdlog.Fatalf("Failed to initialize store: %v", err)
	}

	secretStore, err := secrets.Open(cfg.Secrets.Path, cfg.Secrets.KeyPath)
	if err != nil {
		stdlog.Fatalf("Failed to open secret store: %v", err)
	}

	localBase := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Engine
	watcher := sessions.NewWatcher(cfg.Sessions.SocketDir, cfg.Sessions.PollInterval)
	injector := sessions.NewInjector(cfg.Sessions.SocketDir, cfg.Sessions.ConnectTimeout,
		cfg.Sessions.RetryAttempts, cfg.Sessions.RetryBackoff)
	filters := filter.NewEngine(cfg.Filter.JQPath, cfg.Filter.Timeout)
	pipe := pipeline.New(st, injector, filters, pipeline.Config{
		SummaryMaxBytes:  cfg.Events.SummaryMaxBytes,
		FallbackMaxBytes: cfg.Events.FallbackMaxBytes,
	})
	supervisor := tunnel.NewSupervisor(cfg.Tunnel, localBase)

	// Control plane
	notifier := control.NewNotifier()
	plane := control.New(st, supervisor, secretStore, notifier, localBase)

	// HTTP surface
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.Window)
	router := api.NewRouter(&api.Dependencies{
		HealthHandler:  handlers.NewHealthHandler(cfg.Server.Name),
		WebhookHandler: handlers.NewWebhookHandler(pipe, cfg.Server.MaxBodyBytes),
		RPCHandler:     handlers.NewRPCHandler(plane, limiter),
		RateLimiter:    limiter,
	})
	server := api.NewServer(cfg.Server, router)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watcher.Run(ctx)
	go pipe.RunDrainLoop(ctx, watcher.Events())
	go plane.RunNotificationPump(ctx)
	go limiter.RunEviction(ctx.Done())
	go supervisor.RunHealthLoop(ctx.Done())
	go st.RunRetentionSweep(ctx.Done(), cfg.Events.RetentionDays)

	if stats, err := st.Stats(); err == nil {
		log.Info().
			Int64("subscriptions", stats["subscriptions"]).
			Int64("events", stats["events"]).
			Int64("queued_events", stats["queued_events"]).
			Msg("store opened")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			stdlog.Fatalf("Server failed: %v", err)
		}
		return
	}

	// Shutdown order: drain the ingress server, stop the watcher and
	// loops, stop the tunnel, close the store.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ingress shutdown failed")
	}
	cancel()
	if err := supervisor.Stop(); err != nil {
		log.Error().Err(err).Msg("tunnel shutdown failed")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("store close failed")
	}
}
