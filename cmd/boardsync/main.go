package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/config"
	"github.com/pakhunchan/collab-board-sub000/internal/conn"
	"github.com/pakhunchan/collab-board-sub000/internal/engine"
	"github.com/pakhunchan/collab-board-sub000/internal/persist"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
	"github.com/pakhunchan/collab-board-sub000/internal/statusapi"
	"github.com/pakhunchan/collab-board-sub000/internal/transport"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("BOARDSYNC_CONFIG")), "TOML config file path")
	boardID := flag.String("board", strings.TrimSpace(os.Getenv("BOARDSYNC_BOARD")), "board id")
	userID := flag.String("user", strings.TrimSpace(os.Getenv("BOARDSYNC_USER")), "user id")
	transportDSN := flag.String("transport", strings.TrimSpace(os.Getenv("BOARDSYNC_TRANSPORT")), "transport DSN (ws://, redis://, memory://)")
	persistDSN := flag.String("persist", strings.TrimSpace(os.Getenv("BOARDSYNC_PERSIST")), "persistence DSN (https://, postgres://, memory://)")
	queueDSN := flag.String("queue", strings.TrimSpace(os.Getenv("BOARDSYNC_QUEUE")), "offline queue DSN (bolt://, file://, memory://)")
	statusBind := flag.String("status-bind", strings.TrimSpace(os.Getenv("BOARDSYNC_STATUS_BIND")), "status API listen address")
	statusToken := flag.String("status-token", strings.TrimSpace(os.Getenv("BOARDSYNC_STATUS_TOKEN")), "status API bearer token")
	logLevel := flag.String("log-level", strings.TrimSpace(os.Getenv("BOARDSYNC_LOG_LEVEL")), "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverride(&cfg.BoardID, *boardID)
	applyOverride(&cfg.UserID, *userID)
	applyOverride(&cfg.TransportDSN, *transportDSN)
	applyOverride(&cfg.PersistDSN, *persistDSN)
	applyOverride(&cfg.QueueDSN, *queueDSN)
	applyOverride(&cfg.StatusBind, *statusBind)
	applyOverride(&cfg.StatusToken, *statusToken)
	applyOverride(&cfg.LogLevel, *logLevel)

	if cfg.BoardID == "" {
		log.Fatalf("board is required (--board, BOARDSYNC_BOARD, or board_id in config)")
	}
	if cfg.UserID == "" {
		log.Fatalf("user is required (--user, BOARDSYNC_USER, or user_id in config)")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	offlineQueue, err := queue.Open(cfg.QueueDSN)
	if err != nil {
		log.Fatalf("failed to open offline queue: %v", err)
	}
	persistClient, err := persist.Open(cfg.PersistDSN)
	if err != nil {
		log.Fatalf("failed to open persistence backend: %v", err)
	}
	hub, err := transport.Open(cfg.TransportDSN)
	if err != nil {
		log.Fatalf("failed to open transport: %v", err)
	}

	session, err := engine.NewSession(engine.Options{
		BoardID:   cfg.BoardID,
		UserID:    cfg.UserID,
		Store:     board.NewStore(),
		Queue:     offlineQueue,
		Persist:   persistClient,
		Transport: hub,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("failed to build session: %v", err)
	}
	manager := conn.NewManager(conn.ManagerOptions{
		Logger:      logger,
		OnReconnect: session.Resync,
		OnNotification: func(n conn.Notification) {
			logger.Info("connection notice", "notice", string(n))
		},
	})

	if err := session.Start(ctx, manager); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	ops, err := statusapi.NewServer(statusapi.Options{
		Session: session,
		Manager: manager,
		Queue:   offlineQueue,
		Token:   cfg.StatusToken,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to build status api: %v", err)
	}
	httpServer := &http.Server{Addr: cfg.StatusBind, Handler: ops}
	go func() {
		logger.Info("status api listening", "addr", cfg.StatusBind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status api failed", "error", err)
			stop()
		}
	}()

	logger.Info("boardsync running",
		"board", cfg.BoardID,
		"user", cfg.UserID,
		"sender", session.SenderID(),
		"transport", cfg.TransportDSN,
		"persist", cfg.PersistDSN,
		"queue", cfg.QueueDSN)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status api shutdown", "error", err)
	}
	if err := session.Close(); err != nil {
		logger.Warn("session close", "error", err)
	}
	manager.Close()
	if err := hub.Close(); err != nil {
		logger.Warn("transport close", "error", err)
	}
	if err := persistClient.Close(); err != nil {
		logger.Warn("persistence close", "error", err)
	}
	if err := offlineQueue.Close(); err != nil {
		logger.Warn("queue close", "error", err)
	}
}

// applyOverride replaces *dst when value is non-blank; flags and
// environment variables win over the config file this way.
func applyOverride(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
