package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/pakhunchan/collab-board-sub000/internal/clock"
)

type managerRecorder struct {
	mu            sync.Mutex
	notifications []Notification
	generations   []int
}

func (r *managerRecorder) notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *managerRecorder) reconnect(gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations = append(r.generations, gen)
}

func (r *managerRecorder) snapshot() ([]Notification, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...), append([]int(nil), r.generations...)
}

func newTestManager(t *testing.T) (*Manager, *clock.Fake, *managerRecorder) {
	t.Helper()
	fake := clock.NewFake(time.Unix(1700000000, 0))
	rec := &managerRecorder{}
	mgr := NewManager(ManagerOptions{
		Clock:          fake,
		OnNotification: rec.notify,
		OnReconnect:    rec.reconnect,
	})
	t.Cleanup(mgr.Close)
	return mgr, fake, rec
}

func connectManager(t *testing.T, mgr *Manager) {
	t.Helper()
	mgr.ReportChannelStatus("objects", StatusSubscribed)
	mgr.ReportChannelStatus("cursors", StatusSubscribed)
	if got := mgr.State(); got != StateConnected {
		t.Fatalf("setup: expected connected, got %v", got)
	}
}

func TestManagerReconnectCycleIncrementsGenerationPerBackoffFire(t *testing.T) {
	mgr, fake, rec := newTestManager(t)
	connectManager(t, mgr)
	if mgr.Generation() != 0 {
		t.Fatalf("fresh session must be generation 0, got %d", mgr.Generation())
	}

	mgr.ReportChannelStatus("objects", StatusTimedOut)
	if got := mgr.State(); got != StateReconnecting {
		t.Fatalf("expected reconnecting, got %v", got)
	}

	fake.Advance(999 * time.Millisecond)
	if _, gens := rec.snapshot(); len(gens) != 0 {
		t.Fatalf("reconnect fired before the 1s backoff elapsed: %v", gens)
	}

	fake.Advance(1 * time.Millisecond)
	if _, gens := rec.snapshot(); len(gens) != 1 || gens[0] != 1 {
		t.Fatalf("expected generation 1 after first backoff, got %v", gens)
	}

	fake.Advance(2 * time.Second)
	if _, gens := rec.snapshot(); len(gens) != 2 || gens[1] != 2 {
		t.Fatalf("expected generation 2 after second backoff, got %v", gens)
	}

	mgr.ReportChannelStatus("objects", StatusSubscribed)
	if got := mgr.State(); got != StateConnected {
		t.Fatalf("expected connected after recovery, got %v", got)
	}
	notes, gens := rec.snapshot()
	if len(gens) != 2 {
		t.Fatalf("recovery must not bump the generation: %v", gens)
	}
	if len(notes) != 2 || notes[0] != NotifyDisconnected || notes[1] != NotifyReconnected {
		t.Fatalf("unexpected notification sequence: %v", notes)
	}

	fake.Advance(time.Minute)
	if _, gens := rec.snapshot(); len(gens) != 2 {
		t.Fatalf("stale backoff timer fired after recovery: %v", gens)
	}
}

func TestManagerBrowserOfflinePathSettlesOffline(t *testing.T) {
	mgr, fake, rec := newTestManager(t)
	connectManager(t, mgr)

	mgr.SetBrowserOnline(false)
	if got := mgr.State(); got != StateReconnecting {
		t.Fatalf("expected reconnecting after browser offline, got %v", got)
	}

	fake.Advance(time.Second)
	if got := mgr.State(); got != StateOffline {
		t.Fatalf("expected offline once the timer fired without connectivity, got %v", got)
	}
	notes, gens := rec.snapshot()
	if len(gens) != 0 {
		t.Fatalf("no reconnect effect expected on the offline path: %v", gens)
	}
	if len(notes) != 2 || notes[0] != NotifyDisconnected || notes[1] != NotifyOffline {
		t.Fatalf("unexpected notifications: %v", notes)
	}

	mgr.SetBrowserOnline(true)
	if got := mgr.State(); got != StateReconnecting {
		t.Fatalf("expected reconnecting after connectivity returned, got %v", got)
	}
	mgr.ReportChannelStatus("objects", StatusSubscribed)
	mgr.ReportChannelStatus("cursors", StatusSubscribed)
	if got := mgr.State(); got != StateConnected {
		t.Fatalf("expected connected after channels resubscribed, got %v", got)
	}
}

func TestManagerRetryExhaustionRespectsMaxRetries(t *testing.T) {
	fake := clock.NewFake(time.Unix(1700000000, 0))
	rec := &managerRecorder{}
	mgr := NewManager(ManagerOptions{
		Clock:          fake,
		MaxRetries:     2,
		OnNotification: rec.notify,
		OnReconnect:    rec.reconnect,
	})
	defer mgr.Close()
	connectManager(t, mgr)

	mgr.ReportChannelStatus("cursors", StatusChannelError)
	fake.Advance(time.Second)     // retry 1
	fake.Advance(2 * time.Second) // retry 2
	fake.Advance(4 * time.Second) // exhausted
	if got := mgr.State(); got != StateOffline {
		t.Fatalf("expected offline after maxRetries, got %v", got)
	}
	if _, gens := rec.snapshot(); len(gens) != 2 {
		t.Fatalf("expected exactly 2 reconnect effects, got %v", gens)
	}
}

func TestManagerFireRetryNowSkipsTheWait(t *testing.T) {
	mgr, fake, rec := newTestManager(t)
	connectManager(t, mgr)

	mgr.ReportChannelStatus("objects", StatusClosed)
	mgr.FireRetryNow()
	if _, gens := rec.snapshot(); len(gens) != 1 {
		t.Fatalf("expected one immediate reconnect effect, got %v", gens)
	}

	// The superseded timer must not double-fire.
	fake.Advance(time.Second)
	if _, gens := rec.snapshot(); len(gens) != 1 {
		t.Fatalf("superseded timer fired again: %v", gens)
	}
	// The re-armed timer fires at the incremented delay.
	fake.Advance(time.Second)
	if _, gens := rec.snapshot(); len(gens) != 2 {
		t.Fatalf("expected second reconnect at the 2s delay, got %v", gens)
	}
}

func TestManagerCloseStopsTimersAndEvents(t *testing.T) {
	mgr, fake, rec := newTestManager(t)
	connectManager(t, mgr)

	mgr.ReportChannelStatus("objects", StatusClosed)
	mgr.Close()

	fake.Advance(time.Minute)
	mgr.ReportChannelStatus("objects", StatusSubscribed)
	if _, gens := rec.snapshot(); len(gens) != 0 {
		t.Fatalf("closed manager ran effects: %v", gens)
	}
	if got := mgr.State(); got != StateReconnecting {
		t.Fatalf("closed manager must freeze its state, got %v", got)
	}
}
