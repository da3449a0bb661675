package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SafeSignal-Labs/beacon/internal/api"
	"github.com/SafeSignal-Labs/beacon/internal/assembler"
	"github.com/SafeSignal-Labs/beacon/internal/capture"
	"github.com/SafeSignal-Labs/beacon/internal/chunkstore"
	"github.com/SafeSignal-Labs/beacon/internal/config"
	"github.com/SafeSignal-Labs/beacon/internal/gateway"
	"github.com/SafeSignal-Labs/beacon/internal/notify"
	slackalert "github.com/SafeSignal-Labs/beacon/internal/slack"
	"github.com/SafeSignal-Labs/beacon/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("beacon starting",
		"port", cfg.Port,
		"capture_addr", cfg.CaptureAddr,
		"nats_url", cfg.NatsURL,
		"data_dir", cfg.DataDir,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to the database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Durable segment and artifact storage.
	chunks, err := chunkstore.New(filepath.Join(cfg.DataDir, "segments"))
	if err != nil {
		slog.Error("failed to initialize chunk store", "error", err)
		os.Exit(1)
	}
	asm, err := assembler.New(chunks, filepath.Join(cfg.DataDir, "artifacts"))
	if err != nil {
		slog.Error("failed to initialize assembler", "error", err)
		os.Exit(1)
	}

	// Step 3: Connect to NATS for fan-out.
	nats, err := notify.Connect(cfg.NatsURL)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nats.Close()

	notifier := notify.New(db, nats.Publish)

	// Conditionally create the Slack alerter for failed recoveries.
	var alerter capture.OpsAlerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack recovery alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 4: Wire the capture pipeline.
	outcome := capture.NewOutcomeController(chunks, asm, db, notifier)
	recovery := capture.NewRecovery(outcome, alerter)
	registry := capture.NewRegistry(chunks, outcome, recovery)

	gw, err := gateway.New(cfg.CaptureAddr, registry)
	if err != nil {
		slog.Error("failed to listen for capture connections", "error", err)
		os.Exit(1)
	}
	slog.Info("capture gateway listening", "addr", gw.Addr())

	// Step 5: Announce availability.
	announcement, _ := json.Marshal(map[string]any{
		"event_type": "service.registered",
		"source":     "beacon",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metadata":   map[string]any{"port": cfg.Port, "capture_addr": gw.Addr()},
	})
	if err := nats.Publish("beacon.service.registered", announcement); err != nil {
		slog.Warn("failed to publish registration event", "error", err)
	}

	// Step 6: Run gateway and HTTP API side by side.
	srv := api.NewServer(db, registry, cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Serve(gctx)
	})
	g.Go(func() error {
		return srv.Start()
	})

	slog.Info("beacon ready", "port", cfg.Port)

	// Wait for a shutdown signal or a server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- g.Wait() }()

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	}

	cancel()
	registry.Wait()
	slog.Info("beacon stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
