package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opspulse/streammon/internal/api"
	"github.com/opspulse/streammon/internal/audit"
	"github.com/opspulse/streammon/internal/config"
	"github.com/opspulse/streammon/internal/engine"
	"github.com/opspulse/streammon/internal/metrics"
	streamnats "github.com/opspulse/streammon/internal/nats"
	"github.com/opspulse/streammon/internal/policy"
	"github.com/opspulse/streammon/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting streammon")

	cfg, err := config.Load(os.Getenv("SM_CONFIG_FILE"))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("Configuration loaded",
		"http_addr", cfg.HTTPAddr,
		"nats_url", cfg.NATSURL,
		"buffer_capacity", cfg.BufferCapacity,
		"dedupe_capacity", cfg.DedupeCapacity,
		"audit_capacity", cfg.AuditCapacity,
		"retention_days", cfg.RetentionDays)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	logger.Info("Connected to NATS")

	prom := metrics.New()
	streamStore := store.NewStreamStore(cfg.BufferCapacity, cfg.SLATable(), logger)
	auditLog := audit.NewLog(cfg.AuditCapacity)
	policyEngine := policy.NewEngine()
	eng := engine.New(streamStore, policyEngine, auditLog, prom, cfg.DedupeCapacity, logger,
		engine.WithSubscriberBuffer(cfg.SubscriberBuffer))

	subscriber := streamnats.NewSubscriber(nc, eng, prom, "streammon", logger)
	go func() {
		if err := subscriber.Subscribe(ctx); err != nil {
			logger.Error("NATS subscriber error", "error", err)
		}
	}()

	// Daily audit retention sweep.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := auditLog.ClearOldEntries(cfg.RetentionDays)
				if removed > 0 {
					logger.Info("Audit retention sweep", "removed", removed)
				}
			}
		}
	}()

	server, err := api.NewServer(eng, auditLog, nc, logger)
	if err != nil {
		logger.Error("Failed to build HTTP server", "error", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("streammon started")
	<-sigChan

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("streammon stopped")
}
