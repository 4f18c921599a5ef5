// streamwatch connects both multiplexed sockets and streams decoded
// events to the console. Useful for eyeballing routing and reconnect
// behavior against the live services.
//
// Usage: go run ./cmd/streamwatch --config configs/streammux.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashwalker/streammux/internal/chat"
	"github.com/ashwalker/streammux/internal/config"
	"github.com/ashwalker/streammux/internal/cosmetics"
	"github.com/ashwalker/streammux/internal/platform"
)

func main() {
	configPath := flag.String("config", "configs/streammux.local.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print raw frame payloads")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	client := platform.NewClient(
		cfg.Platform.RestURL,
		cfg.Platform.AuthToken,
		platform.WithLogger(logger),
		platform.WithTimeout(cfg.Platform.Timeout),
	)

	chatCfg := chat.DefaultConfig()
	chatCfg.URL = cfg.Chat.WSURL
	chatCfg.UserID = cfg.Chat.UserID
	chatMux := chat.New(chatCfg, client, logger)
	defer chatMux.Close()

	cosCfg := cosmetics.DefaultConfig()
	cosCfg.URL = cfg.Cosmetics.WSURL
	cosCfg.AccountID = cfg.Cosmetics.AccountID
	cosMux := cosmetics.New(cosCfg, logger)
	defer cosMux.Close()

	// Start console printers before adding rooms so nothing is missed
	go printChatEvents(ctx, chatMux.Events(), *verbose, logger)
	go printCosmeticsEvents(ctx, cosMux.Events(), *verbose, logger)

	for _, room := range cfg.Rooms {
		chatMux.AddRoom(ctx, room.ID, room.OwnerID, map[string]string{"channel": room.Channel})
		cosMux.AddRoom(room.ID, room.PlatformUserID, room.CosmeticsUserID, room.EmoteSetID)
	}
	logger.Info("rooms added", "count", len(cfg.Rooms))

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"chat_state", chatMux.State().String(),
					"chat_subscriptions", chatMux.SubscriptionCount(),
					"cosmetics_state", cosMux.State().String(),
					"cosmetics_subscriptions", cosMux.SubscriptionCount(),
					"cosmetics_rejected", cosMux.Rejected(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("stopped")
}

func printChatEvents(ctx context.Context, events <-chan chat.Event, verbose bool, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case chat.EventConnection:
				logger.Info("chat connection", "connected", ev.Connected)
			case chat.EventMessage:
				msg, err := chat.DecodeMessage(ev.Frame)
				if err != nil {
					logger.Warn("chat decode", "error", err)
					continue
				}
				logger.Info("chat message",
					"room_id", ev.RoomID,
					"sender", msg.Sender.Username,
					"content", msg.Content,
				)
			case chat.EventError:
				logger.Warn("chat error", "error", ev.Err)
			default:
				args := []any{"kind", int(ev.Kind), "room_id", ev.RoomID, "event", ev.Frame.Event}
				if verbose {
					args = append(args, "data", string(ev.Frame.Data))
				}
				logger.Info("chat event", args...)
			}
		}
	}
}

func printCosmeticsEvents(ctx context.Context, events <-chan cosmetics.Event, verbose bool, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case cosmetics.EventConnection:
				logger.Info("cosmetics connection", "connected", ev.Connected)
			case cosmetics.EventRejected:
				logger.Warn("cosmetics rejected, no resubscription will occur")
			case cosmetics.EventError:
				logger.Warn("cosmetics error", "error", ev.Err)
			default:
				args := []any{"room_id", ev.RoomID, "type", ev.Frame.Type, "username", ev.Username}
				if verbose {
					args = append(args, "body", string(ev.Frame.Body))
				}
				logger.Info("cosmetics event", args...)
			}
		}
	}
}
