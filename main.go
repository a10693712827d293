// Command livebridge is the main entrypoint for the live chat bridge.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (when configured) and runs idempotent migrations
//     for the customer store.
//   - Builds the upstream platform client, the stream connector, and the
//     event broadcaster.
//   - Exposes the HTTP control surface, the websocket push channel, and
//     /healthz, /readyz, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ventelive/livebridge/broadcast"
	"github.com/ventelive/livebridge/config"
	"github.com/ventelive/livebridge/connector"
	"github.com/ventelive/livebridge/db"
	"github.com/ventelive/livebridge/event"
	"github.com/ventelive/livebridge/server"
	"github.com/ventelive/livebridge/telemetry"
	"github.com/ventelive/livebridge/upstream"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateUpstreamReady(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("livebridge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB is optional: without it the relay runs but customer auto-creation
	// in consuming applications has no local collaborator to point at.
	if cfg.DBDsn != "" {
		database, err := db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	} else {
		slog.Info("DB_DSN not set; customer store disabled")
	}

	// Upstream platform client
	platform := &upstream.Client{
		Gateway: &upstream.GatewayClient{
			BaseURL:   cfg.GatewayURL,
			UserAgent: cfg.UserAgent,
			SessionID: cfg.SessionID,
		},
	}

	// Broadcaster and connector. The broadcaster snapshots connector
	// status for every newly attached channel.
	var conn *connector.Connector
	hub := broadcast.New(func() event.Event {
		st := conn.Status()
		if st.State == "live" {
			return event.NewConnection(event.StatusConnected, st.RoomID)
		}
		return event.NewConnection(event.StatusDisconnected, "")
	})
	conn = connector.New(ctx, platform, hub, cfg.TriggerToken, connector.RetryPolicy{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		BaseDelay:   cfg.ReconnectBaseDelay,
	})

	// Optionally join the default broadcaster right away.
	if cfg.DefaultIdentity != "" {
		if err := conn.Start(cfg.DefaultIdentity); err != nil {
			slog.Warn("default identity start failed", slog.Any("err", err))
		}
	}

	// HTTP server (control surface, push channel, health, metrics)
	go func() {
		if err := server.Start(ctx, conn, hub, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()
	slog.Info("livebridge started", slog.String("addr", cfg.HTTPAddr), slog.String("gateway", cfg.GatewayURL))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	conn.Stop()
	hub.CloseAll()
}
