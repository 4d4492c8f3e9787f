package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
)

func TestRunListPrintsJSONLines(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()

	obj := board.Object{ID: "obj-1", BoardID: "board-1", Type: board.TypeSticky}
	if err := q.Append(ctx, "board-1", queue.CreateWrite(obj, "2024-01-01T00:00:00.000Z")); err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if err := q.Append(ctx, "board-1", queue.DeleteWrite("obj-2", "2024-01-01T00:00:01.000Z")); err != nil {
		t.Fatalf("seed delete: %v", err)
	}

	var buf bytes.Buffer
	if err := runList(ctx, q, "board-1", &buf); err != nil {
		t.Fatalf("list: %v", err)
	}

	var lines []queue.PendingWrite
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var write queue.PendingWrite
		if err := json.Unmarshal(scanner.Bytes(), &write); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, write)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Kind != queue.KindCreate || lines[0].Object == nil || lines[0].Object.ID != "obj-1" {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if lines[1].Kind != queue.KindDelete || lines[1].ObjectID != "obj-2" {
		t.Fatalf("unexpected second line: %+v", lines[1])
	}
}

func TestRunListEmptyQueuePrintsNothing(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()

	var buf bytes.Buffer
	if err := runList(ctx, q, "board-1", &buf); err != nil {
		t.Fatalf("list: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}
