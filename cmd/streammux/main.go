package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashwalker/streammux/internal/chat"
	"github.com/ashwalker/streammux/internal/config"
	"github.com/ashwalker/streammux/internal/cosmetics"
	"github.com/ashwalker/streammux/internal/database"
	"github.com/ashwalker/streammux/internal/emotes"
	"github.com/ashwalker/streammux/internal/history"
	"github.com/ashwalker/streammux/internal/observe"
	"github.com/ashwalker/streammux/internal/orchestrator"
	"github.com/ashwalker/streammux/internal/outbox"
	"github.com/ashwalker/streammux/internal/platform"
	"github.com/ashwalker/streammux/internal/socket"
	"github.com/ashwalker/streammux/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streammux.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streammux",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"rest_url", cfg.Platform.RestURL,
		"rooms", len(cfg.Rooms),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	sink := observe.NewLogSink(logger)

	// Create platform REST client
	client := platform.NewClient(
		cfg.Platform.RestURL,
		cfg.Platform.AuthToken,
		platform.WithLogger(logger),
		platform.WithTimeout(cfg.Platform.Timeout),
		platform.WithRetries(cfg.Platform.MaxRetries, time.Second),
	)

	// Optional message history persistence
	var (
		pool   *pgxpool.Pool
		writer *history.Writer
	)
	if cfg.History.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer = history.NewWriter(history.Config{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			InputBuffer:   cfg.History.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start history writer", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			writer.Stop(stopCtx)
		}()
		logger.Info("history writer started")
	}

	// Chat multiplexer
	chatCfg := chat.DefaultConfig()
	chatCfg.URL = cfg.Chat.WSURL
	chatCfg.UserID = cfg.Chat.UserID
	chatCfg.EventBuffer = cfg.Chat.EventBuffer
	applySocketConfig(&chatCfg.Socket, cfg.Socket)
	chatCfg.Socket.Backoff = chatBackoff(cfg.Socket)
	chatMux := chat.New(chatCfg, client, logger)

	// Cosmetics multiplexer
	cosCfg := cosmetics.DefaultConfig()
	cosCfg.URL = cfg.Cosmetics.WSURL
	cosCfg.AccountID = cfg.Cosmetics.AccountID
	cosCfg.EventBuffer = cfg.Cosmetics.EventBuffer
	applySocketConfig(&cosCfg.Socket, cfg.Socket)
	cosCfg.Socket.Backoff = cosmeticsBackoff(cfg.Socket)
	cosMux := cosmetics.New(cosCfg, logger)

	// Emote state reconciler
	reconciler := emotes.New(logger, func(roomID int64) {
		observe.Event(sink, "emotes.invalidated", map[string]string{
			"room_id": fmt.Sprintf("%d", roomID),
		})
	})

	// Optimistic send coordinator
	outCfg := outbox.DefaultConfig()
	outCfg.ConfirmTimeout = cfg.Outbox.ConfirmTimeout
	outCfg.Retention = cfg.Outbox.Retention
	var sinkHist outbox.HistorySink
	if writer != nil {
		sinkHist = historySink{writer: writer}
	}
	box := outbox.New(outCfg, identitySource{client: client}, client, sinkHist, sink, logger)
	box.Start(ctx)
	defer box.Stop()

	// Orchestrator
	orchCfg := orchestrator.DefaultConfig()
	orchCfg.BatchSize = cfg.Admission.BatchSize
	orchCfg.Stagger = cfg.Admission.Stagger
	orchCfg.FirstSuccessTimeout = cfg.Admission.FirstSuccessTimeout
	orchCfg.RetryInterval = cfg.Admission.RetryInterval
	orch := orchestrator.New(orchCfg, chatMux, cosMux, client, reconciler, box, sink, logger)

	var active []orchestrator.RoomSpec
	for _, room := range cfg.Rooms {
		spec := orchestrator.RoomSpec{
			ID:              room.ID,
			OwnerID:         room.OwnerID,
			Channel:         room.Channel,
			Live:            room.Live,
			PlatformUserID:  room.PlatformUserID,
			CosmeticsUserID: room.CosmeticsUserID,
			EmoteSetID:      room.EmoteSetID,
		}
		if room.Deferred {
			orch.RegisterDeferred(spec)
			continue
		}
		active = append(active, spec)
	}

	// Start health server early so admission progress is observable
	healthPort := 8080
	if cfg.Metrics.Port > 0 {
		healthPort = cfg.Metrics.Port
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(orch, chatMux, cosMux, pool),
	}
	go func() {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("admitting rooms", "active", len(active), "deferred", len(cfg.Rooms)-len(active))
	if err := orch.Initialize(ctx, active); err != nil {
		if errors.Is(err, orchestrator.ErrInitTimeout) {
			// Admission keeps running in the background; degraded, not fatal.
			logger.Warn("initialization timed out waiting for sockets", "error", err)
		} else {
			logger.Error("failed to initialize", "error", err)
			os.Exit(1)
		}
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		orch.Stop(stopCtx)
	}()

	logger.Info("streammux running",
		"instance_id", cfg.Instance.ID,
		"rooms_loaded", orch.LoadedCount(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("streammux stopped")
}

// applySocketConfig overlays the shared resilience settings on sc. The
// backoff schedule is left alone: each protocol keeps its own shape, with
// only the cap and base overridden per protocol at the call site.
func applySocketConfig(sc *socket.Config, c config.SocketConfig) {
	sc.DialTimeout = c.DialTimeout
	sc.HeartbeatInterval = c.HeartbeatInterval
	sc.QueueLimit = c.QueueLimit
	sc.SendRetryLimit = c.SendRetryLimit
	sc.MaxAttempts = c.MaxAttempts
	sc.Breaker = socket.BreakerConfig{
		Threshold: c.BreakerThreshold,
		Cooldown:  c.BreakerCooldown,
	}
}

// chatBackoff is the chat socket's reconnect schedule with the configured
// base and cap applied.
func chatBackoff(c config.SocketConfig) socket.Strategy {
	return socket.Exponential(c.ReconnectBaseDelay, 2, c.ReconnectMaxDelay)
}

// cosmeticsBackoff keeps the cosmetics socket on pure powers of two,
// re-capped with the configured ceiling.
func cosmeticsBackoff(c config.SocketConfig) socket.Strategy {
	return socket.PowersOfTwo(c.ReconnectMaxDelay)
}

// identitySource adapts the platform client to the outbox's identity
// lookup.
type identitySource struct {
	client *platform.Client
}

func (s identitySource) Identity(ctx context.Context) (outbox.Identity, error) {
	resp, err := s.client.Identity(ctx)
	if err != nil {
		return outbox.Identity{}, err
	}
	return outbox.Identity{ID: resp.ID, Username: resp.Username}, nil
}

// historySink forwards confirmed outbox entries to the batch writer.
type historySink struct {
	writer *history.Writer
}

func (s historySink) Write(msg outbox.Message) {
	s.writer.Write(history.Record{
		ServerID:  msg.ServerID,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Kind:      msg.Kind,
		CreatedAt: msg.CreatedAt,
	})
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(orch *orchestrator.Orchestrator, chatMux *chat.Mux, cosMux *cosmetics.Mux, pool *pgxpool.Pool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		health.Components["chat"] = map[string]interface{}{
			"state":         chatMux.State().String(),
			"rooms":         chatMux.RoomCount(),
			"subscriptions": chatMux.SubscriptionCount(),
		}
		if chatMux.State() != socket.StateConnected {
			health.Status = "degraded"
		}

		health.Components["cosmetics"] = map[string]interface{}{
			"state":         cosMux.State().String(),
			"rooms":         cosMux.RoomCount(),
			"subscriptions": cosMux.SubscriptionCount(),
			"rejected":      cosMux.Rejected(),
		}
		if cosMux.Rejected() {
			health.Status = "degraded"
		}

		health.Components["rooms"] = map[string]interface{}{
			"registered": orch.RoomCount(),
			"loaded":     orch.LoadedCount(),
		}

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
