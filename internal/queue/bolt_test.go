package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func TestBoltQueuePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pending.db")

	q, err := NewBoltQueue(path)
	if err != nil {
		t.Fatalf("new bolt queue: %v", err)
	}
	if err := q.Append(ctx, "b1", CreateWrite(testObject("o1"), "2026-01-01T00:00:01.000Z")); err != nil {
		t.Fatalf("append create: %v", err)
	}
	if err := q.Append(ctx, "b1", DeleteWrite("o0", "2026-01-01T00:00:02.000Z")); err != nil {
		t.Fatalf("append delete: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewBoltQueue(path)
	if err != nil {
		t.Fatalf("reopen bolt queue: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all after reopen: %v", err)
	}
	if len(got) != 2 || got[0].Kind != KindCreate || got[1].Kind != KindDelete {
		t.Fatalf("entries lost or reordered across reopen: %+v", got)
	}
}

func TestBoltQueueKeepsAppendOrderPastSingleDigitSequences(t *testing.T) {
	ctx := context.Background()
	q, err := NewBoltQueue(filepath.Join(t.TempDir(), "pending.db"))
	if err != nil {
		t.Fatalf("new bolt queue: %v", err)
	}
	defer q.Close()

	const n = 40
	for i := 0; i < n; i++ {
		if err := q.Append(ctx, "b1", DeleteWrite(fmt.Sprintf("o%03d", i), "")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	got, err := q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(got) != n {
		t.Fatalf("expected %d entries, got %d", n, len(got))
	}
	for i, w := range got {
		if want := fmt.Sprintf("o%03d", i); w.ObjectID != want {
			t.Fatalf("entry %d out of order: got %q want %q", i, w.ObjectID, want)
		}
	}
}

func TestBoltQueueClearIsolatesBoards(t *testing.T) {
	ctx := context.Background()
	q, err := NewBoltQueue(filepath.Join(t.TempDir(), "pending.db"))
	if err != nil {
		t.Fatalf("new bolt queue: %v", err)
	}
	defer q.Close()

	if err := q.Append(ctx, "b1", DeleteWrite("o1", "")); err != nil {
		t.Fatalf("append b1: %v", err)
	}
	if err := q.Append(ctx, "b2", DeleteWrite("o2", "")); err != nil {
		t.Fatalf("append b2: %v", err)
	}
	if err := q.Clear(ctx, "b1"); err != nil {
		t.Fatalf("clear b1: %v", err)
	}
	if err := q.Clear(ctx, "never-seen"); err != nil {
		t.Fatalf("clear of unknown board must be a no-op, got %v", err)
	}

	b1, err := q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all b1: %v", err)
	}
	if len(b1) != 0 {
		t.Fatalf("expected b1 empty, got %+v", b1)
	}
	b2, err := q.All(ctx, "b2")
	if err != nil {
		t.Fatalf("all b2: %v", err)
	}
	if len(b2) != 1 || b2[0].ObjectID != "o2" {
		t.Fatalf("clear leaked into b2: %+v", b2)
	}
}
