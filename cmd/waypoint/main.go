// Waypoint experience server — serves the player WebSocket endpoint,
// owns the persisted world and player-view documents, and publishes
// per-player state deltas.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/waypointxr/waypoint/pkg/aoi"
	"github.com/waypointxr/waypoint/pkg/api"
	"github.com/waypointxr/waypoint/pkg/auth"
	"github.com/waypointxr/waypoint/pkg/config"
	"github.com/waypointxr/waypoint/pkg/content"
	"github.com/waypointxr/waypoint/pkg/dispatch"
	"github.com/waypointxr/waypoint/pkg/events"
	"github.com/waypointxr/waypoint/pkg/handlers"
	"github.com/waypointxr/waypoint/pkg/interp"
	"github.com/waypointxr/waypoint/pkg/notify"
	"github.com/waypointxr/waypoint/pkg/state"
	"github.com/waypointxr/waypoint/pkg/store"
	"github.com/waypointxr/waypoint/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("WAYPOINT_CONFIG", "./waypoint.yaml"),
		"Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting waypoint",
		"version", version.Full(),
		"config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Content root and state documents.
	docs, err := store.NewDocumentStore(cfg.Content.Root)
	if err != nil {
		slog.Error("Failed to open content root", "root", cfg.Content.Root, "error", err)
		os.Exit(1)
	}
	resolver := content.NewResolver(content.NewStore(docs))

	// Delta bus.
	var bus events.Bus
	switch cfg.Bus.Kind {
	case config.BusNATS:
		nc, err := events.ConnectNATS(cfg.Bus.URL)
		if err != nil {
			slog.Error("Failed to connect to NATS", "url", cfg.Bus.URL, "error", err)
			os.Exit(1)
		}
		bus = nc
		slog.Info("Connected to NATS", "url", cfg.Bus.URL)
	default:
		bus = events.NewMemoryBus()
		slog.Info("Using in-process delta bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Error("Error closing delta bus", "error", err)
		}
	}()

	stateManager := state.NewManager(docs, resolver, events.NewPublisher(bus))
	builder := aoi.NewBuilder(stateManager, resolver, cfg.Content.ZoneRadiusMeters)

	// Slow path.
	var slowPath dispatch.Handler = interp.Unavailable{}
	if cfg.Interpreter.URL != "" {
		slowPath = interp.NewHTTPClient(cfg.Interpreter.URL, cfg.Interpreter.BearerToken, cfg.Interpreter.Timeout)
		slog.Info("Interpreter configured", "url", cfg.Interpreter.URL)
	}

	// Admin notifications.
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Slack.Enabled {
		notifier = notify.NewSlack(cfg.Slack.Token, cfg.Slack.Channel)
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	dispatcher := dispatch.New(handlers.NewAdmin(stateManager, resolver, notifier), slowPath)
	handlers.NewFast(stateManager, resolver).RegisterAll(dispatcher)
	slog.Info("Command dispatcher ready", "fast_handlers", len(dispatcher.Actions()))

	connManager := api.NewConnectionManager(bus, dispatcher, builder, cfg.Server.SendBuffer)
	server := api.NewServer(auth.NewVerifier(cfg.Auth.JWTSecret), connManager)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Shutting down after server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
