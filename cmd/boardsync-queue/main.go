package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/pakhunchan/collab-board-sub000/internal/config"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("BOARDSYNC_CONFIG")), "TOML config file path")
	queueDSN := flag.String("queue", strings.TrimSpace(os.Getenv("BOARDSYNC_QUEUE")), "offline queue DSN (bolt://, file://, memory://)")
	boardID := flag.String("board", strings.TrimSpace(os.Getenv("BOARDSYNC_BOARD")), "board id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverride(&cfg.QueueDSN, *queueDSN)
	applyOverride(&cfg.BoardID, *boardID)

	if cfg.BoardID == "" {
		log.Fatalf("board is required (--board, BOARDSYNC_BOARD, or board_id in config)")
	}
	if flag.NArg() != 1 {
		log.Fatalf("usage: boardsync-queue [-queue DSN] [-board ID] list|clear")
	}

	offlineQueue, err := queue.Open(cfg.QueueDSN)
	if err != nil {
		log.Fatalf("failed to open offline queue: %v", err)
	}
	defer offlineQueue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch flag.Arg(0) {
	case "list":
		if err := runList(ctx, offlineQueue, cfg.BoardID, os.Stdout); err != nil {
			log.Fatalf("list failed: %v", err)
		}
	case "clear":
		if err := offlineQueue.Clear(ctx, cfg.BoardID); err != nil {
			log.Fatalf("clear failed: %v", err)
		}
		log.Printf("cleared pending writes for board %s", cfg.BoardID)
	default:
		log.Fatalf("unknown command %q (expected list or clear)", flag.Arg(0))
	}
}

// runList prints one JSON object per pending write, oldest first.
func runList(ctx context.Context, q queue.Queue, boardID string, out io.Writer) error {
	writes, err := q.All(ctx, boardID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, write := range writes {
		if err := enc.Encode(write); err != nil {
			return err
		}
	}
	return nil
}

func applyOverride(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}
