package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

func testObject(id string) board.Object {
	return board.Object{
		ID:        id,
		BoardID:   "b1",
		Type:      board.TypeSticky,
		Width:     200,
		Height:    200,
		CreatedAt: "2026-01-01T00:00:00.000Z",
		UpdatedAt: "2026-01-01T00:00:00.000Z",
	}
}

func TestMemoryQueueAppendOrderAndClear(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	writes := []PendingWrite{
		CreateWrite(testObject("o1"), "2026-01-01T00:00:01.000Z"),
		UpdateWrite("o1", map[string]any{"text": "hi"}, "2026-01-01T00:00:02.000Z"),
		DeleteWrite("o1", "2026-01-01T00:00:03.000Z"),
	}
	for _, w := range writes {
		if err := q.Append(ctx, "b1", w); err != nil {
			t.Fatalf("append %v failed: %v", w.Kind, err)
		}
	}

	got, err := q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all failed: %v", err)
	}
	if len(got) != 3 || got[0].Kind != KindCreate || got[1].Kind != KindUpdate || got[2].Kind != KindDelete {
		t.Fatalf("unexpected order/content: %+v", got)
	}
	if got[0].Object == nil || got[0].Object.ID != "o1" {
		t.Fatalf("create entry lost its object: %+v", got[0])
	}

	if err := q.Clear(ctx, "b1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	got, err = q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all after clear failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty queue after clear, got %+v", got)
	}
}

func TestMemoryQueueIsolatesBoards(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
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

	other, err := q.All(ctx, "b2")
	if err != nil {
		t.Fatalf("all b2: %v", err)
	}
	if len(other) != 1 || other[0].ObjectID != "o2" {
		t.Fatalf("clearing b1 touched b2: %+v", other)
	}
}

func TestAppendRejectsMalformedWrites(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	cases := []struct {
		name  string
		board string
		write PendingWrite
	}{
		{"empty board id", "", DeleteWrite("o1", "")},
		{"unknown kind", "b1", PendingWrite{Kind: Kind("upsert"), ObjectID: "o1"}},
		{"create without object", "b1", PendingWrite{Kind: KindCreate}},
		{"update without id", "b1", PendingWrite{Kind: KindUpdate, Changes: map[string]any{"x": 1.0}}},
		{"update without changes", "b1", PendingWrite{Kind: KindUpdate, ObjectID: "o1"}},
		{"delete without id", "b1", PendingWrite{Kind: KindDelete}},
	}
	for _, tc := range cases {
		if err := q.Append(ctx, tc.board, tc.write); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestQueueReturnsIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	defer q.Close()

	changes := map[string]any{"text": "original"}
	if err := q.Append(ctx, "b1", UpdateWrite("o1", changes, "")); err != nil {
		t.Fatalf("append: %v", err)
	}
	changes["text"] = "mutated-after-append"

	first, err := q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	first[0].Changes["text"] = "mutated-after-read"

	second, err := q.All(ctx, "b1")
	if err != nil {
		t.Fatalf("all again: %v", err)
	}
	if second[0].Changes["text"] != "original" {
		t.Fatalf("queue entries share state with callers: %+v", second[0].Changes)
	}
}
