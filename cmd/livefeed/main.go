// Command livefeed tails a broadcaster's relayed events from a running
// bridge: it starts the upstream session via the control API, subscribes
// to the push channel, and prints chat, gift, and like activity while
// tracking session state with a chat consumer. With DB_DSN set, chat
// senders are resolved against the customer store exactly as the full
// application would.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ventelive/livebridge/config"
	"github.com/ventelive/livebridge/consumer"
	"github.com/ventelive/livebridge/db"
	"github.com/ventelive/livebridge/event"
	"github.com/ventelive/livebridge/relayclient"
)

func main() {
	_ = godotenv.Load(".env")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: livefeed <identity>")
		os.Exit(2)
	}
	identity := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	bridgeURL := os.Getenv("BRIDGE_URL")
	if bridgeURL == "" {
		bridgeURL = "http://localhost:8080"
	}
	wsURL := "ws" + strings.TrimPrefix(bridgeURL, "http") + "/ws"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store consumer.CustomerStore
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
		store = &db.CustomerStore{DB: database}
	}

	cons := consumer.New(ctx, store)
	client := relayclient.New(relayclient.Options{
		WSURL:             wsURL,
		ControlURL:        bridgeURL,
		BufferSize:        cfg.RelayBufferSize,
		ReconnectAttempts: cfg.RelayReconnectAttempts,
		ReconnectDelay:    cfg.RelayReconnectDelay,
	})
	defer client.Close()

	unsubscribe := client.OnMessage(func(ev event.Event) {
		cons.HandleEvent(ev)
		switch ev.Type {
		case event.KindChat:
			marker := " "
			if ev.Chat.Trigger {
				marker = "*"
			}
			fmt.Printf("%s %s: %s\n", marker, ev.Chat.DisplayName, ev.Chat.Text)
		case event.KindGift:
			fmt.Printf("  %s sent %s x%d\n", ev.Gift.DisplayName, ev.Gift.GiftName, ev.Gift.RepeatCount)
		case event.KindLike:
			fmt.Printf("  %s liked x%d\n", ev.Like.DisplayName, ev.Like.LikeCount)
		case event.KindConnection:
			fmt.Printf("-- %s %s\n", ev.Connection.Status, ev.Connection.RoomID)
		case event.KindError:
			fmt.Printf("!! %s\n", ev.Error.Message)
		case event.KindStreamEnd:
			fmt.Println("-- stream ended")
		}
	})
	defer unsubscribe()

	cons.StartListening()
	if err := client.StartListening(ctx, identity); err != nil {
		slog.Error("start listening failed", slog.String("identity", identity), slog.Any("err", err))
		os.Exit(1)
	}

	<-ctx.Done()

	stats := cons.Stats()
	slog.Info("session summary",
		slog.String("state", cons.State().String()),
		slog.Int("messages", stats.Messages),
		slog.Int("likes", stats.Likes),
		slog.Int("gifts", stats.Gifts),
		slog.Int("errors", stats.Errors))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := client.StopListening(stopCtx); err != nil {
		slog.Warn("stop listening failed", slog.Any("err", err))
	}
}
