package board

import (
	"testing"
)

func stickyAt(id, updatedAt string) Object {
	return Object{
		ID:        id,
		BoardID:   "b1",
		Type:      TypeSticky,
		Width:     200,
		Height:    200,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

func TestStoreUpdateStampsAndMerges(t *testing.T) {
	s := NewStore()
	s.Add(stickyAt("o1", "2026-01-01T00:00:00.000Z"))

	merged, ok := s.Update("o1", map[string]any{"text": "hi", "x": float64(30)}, "2026-01-01T00:00:01.000Z")
	if !ok {
		t.Fatalf("expected update to find o1")
	}
	if merged.Text != "hi" || merged.X != 30 {
		t.Fatalf("changes not merged: %+v", merged)
	}
	if merged.UpdatedAt != "2026-01-01T00:00:01.000Z" {
		t.Fatalf("local update did not stamp: %q", merged.UpdatedAt)
	}

	if _, ok := s.Update("missing", map[string]any{"x": float64(1)}, "2026-01-01T00:00:02.000Z"); ok {
		t.Fatalf("expected update on missing id to report absence")
	}
}

func TestStoreRemotePathsDoNotStamp(t *testing.T) {
	s := NewStore()
	s.ApplyRemoteCreate(stickyAt("o1", "2026-01-01T00:00:05.000Z"))

	got, ok := s.Get("o1")
	if !ok || got.UpdatedAt != "2026-01-01T00:00:05.000Z" {
		t.Fatalf("remote create altered the payload stamp: %+v", got)
	}

	merged, ok := s.ApplyRemoteUpdate("o1", map[string]any{"color": "#000000", "updatedAt": "2026-01-01T00:00:06.000Z"})
	if !ok {
		t.Fatalf("expected remote update to find o1")
	}
	if merged.Color != "#000000" || merged.UpdatedAt != "2026-01-01T00:00:06.000Z" {
		t.Fatalf("remote update must trust the incoming stamp verbatim: %+v", merged)
	}

	s.ApplyRemoteDelete("o1")
	if _, ok := s.Get("o1"); ok {
		t.Fatalf("remote delete left the object behind")
	}
}

func TestStoreBatchUpdateSkipsUnknownIDs(t *testing.T) {
	s := NewStore()
	s.Add(stickyAt("o1", "2026-01-01T00:00:00.000Z"))
	s.Add(stickyAt("o2", "2026-01-01T00:00:00.000Z"))

	s.ApplyRemoteBatchUpdate(map[string]map[string]any{
		"o1":      {"text": "first"},
		"o2":      {"text": "second"},
		"missing": {"text": "nope"},
	})

	o1, _ := s.Get("o1")
	o2, _ := s.Get("o2")
	if o1.Text != "first" || o2.Text != "second" {
		t.Fatalf("batch update missed entries: %q %q", o1.Text, o2.Text)
	}
	if s.Len() != 2 {
		t.Fatalf("batch update must not create objects, len=%d", s.Len())
	}
}

func TestStoreLoadReplacesEverything(t *testing.T) {
	s := NewStore()
	s.Add(stickyAt("stale", "2026-01-01T00:00:00.000Z"))

	s.Load([]Object{stickyAt("o1", "2026-01-02T00:00:00.000Z"), stickyAt("o2", "2026-01-02T00:00:00.000Z")})

	if _, ok := s.Get("stale"); ok {
		t.Fatalf("load kept a superseded entry")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 objects after load, got %d", s.Len())
	}
}

func TestReconcileLastWriteWins(t *testing.T) {
	s := NewStore()

	newerLocal := stickyAt("newer-local", "2026-01-01T00:00:10.000Z")
	newerLocal.Text = "local"
	olderLocal := stickyAt("newer-remote", "2026-01-01T00:00:01.000Z")
	olderLocal.Text = "local"
	tieLocal := stickyAt("tie", "2026-01-01T00:00:05.000Z")
	tieLocal.Text = "local"
	s.Load([]Object{newerLocal, olderLocal, tieLocal})

	remoteOldForLocalWinner := stickyAt("newer-local", "2026-01-01T00:00:02.000Z")
	remoteOldForLocalWinner.Text = "remote"
	remoteNew := stickyAt("newer-remote", "2026-01-01T00:00:09.000Z")
	remoteNew.Text = "remote"
	tieRemote := stickyAt("tie", "2026-01-01T00:00:05.000Z")
	tieRemote.Text = "remote"
	adopted := stickyAt("remote-only", "2026-01-01T00:00:03.000Z")

	localOnly := s.Reconcile([]Object{remoteOldForLocalWinner, remoteNew, tieRemote, adopted})
	if len(localOnly) != 0 {
		t.Fatalf("expected no local-only objects, got %+v", localOnly)
	}

	if got, _ := s.Get("newer-local"); got.Text != "local" {
		t.Fatalf("strictly newer local must win, got %q", got.Text)
	}
	if got, _ := s.Get("newer-remote"); got.Text != "remote" {
		t.Fatalf("newer remote must win, got %q", got.Text)
	}
	if got, _ := s.Get("tie"); got.Text != "remote" {
		t.Fatalf("equal stamps must resolve to remote, got %q", got.Text)
	}
	if _, ok := s.Get("remote-only"); !ok {
		t.Fatalf("remote-only object was not adopted")
	}
}

func TestReconcilePreservesAndReturnsLocalOnly(t *testing.T) {
	s := NewStore()
	second := stickyAt("offline-2", "2026-01-01T00:00:08.000Z")
	second.CreatedAt = "2026-01-01T00:00:08.000Z"
	first := stickyAt("offline-1", "2026-01-01T00:00:04.000Z")
	first.CreatedAt = "2026-01-01T00:00:04.000Z"
	shared := stickyAt("shared", "2026-01-01T00:00:01.000Z")
	s.Load([]Object{second, first, shared})

	localOnly := s.Reconcile([]Object{stickyAt("shared", "2026-01-01T00:00:02.000Z")})

	if len(localOnly) != 2 {
		t.Fatalf("expected 2 local-only objects, got %d", len(localOnly))
	}
	if localOnly[0].ID != "offline-1" || localOnly[1].ID != "offline-2" {
		t.Fatalf("local-only not ordered by creation: %q then %q", localOnly[0].ID, localOnly[1].ID)
	}
	for _, id := range []string{"offline-1", "offline-2", "shared"} {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("merged store missing %q", id)
		}
	}
	if got, _ := s.Get("offline-1"); got.UpdatedAt != "2026-01-01T00:00:04.000Z" {
		t.Fatalf("local-only object was altered by the merge: %+v", got)
	}
}

func TestStoreDerivedReads(t *testing.T) {
	s := NewStore()
	frame := stickyAt("f1", "2026-01-01T00:00:00.000Z")
	frame.Type = TypeFrame
	frame.ZIndex = FrameZIndex
	child := stickyAt("o1", "2026-01-01T00:00:00.000Z")
	child.Properties = map[string]any{"frameId": "f1"}
	child.ZIndex = 3
	loose := stickyAt("o2", "2026-01-01T00:00:00.000Z")
	loose.ZIndex = 7
	conn := stickyAt("c1", "2026-01-01T00:00:00.000Z")
	conn.Type = TypeConnector
	conn.Properties = map[string]any{"startObjectId": "o1", "endObjectId": "o2"}
	s.Load([]Object{frame, child, loose, conn})

	if got := s.FrameChildren("f1"); len(got) != 1 || got[0].ID != "o1" {
		t.Fatalf("unexpected frame children: %+v", got)
	}
	refs := s.ConnectorsReferencing("o2")
	if len(refs) != 1 || refs[0].ID != "c1" {
		t.Fatalf("unexpected connector references: %+v", refs)
	}
	if got := s.ConnectorsReferencing("f1"); len(got) != 0 {
		t.Fatalf("expected no connectors referencing f1, got %+v", got)
	}
	if got := s.MaxZIndex(); got != 7 {
		t.Fatalf("expected max zIndex 7, got %d", got)
	}
	all := s.All()
	if len(all) != 4 || all[0].ID != "c1" {
		t.Fatalf("All must be ordered by id, got %+v", all)
	}
}
