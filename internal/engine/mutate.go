package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/persist"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
	"github.com/pakhunchan/collab-board-sub000/internal/transport"
)

// Create builds an object of type typ centered on (x, y), applies overrides,
// adds it to the store, broadcasts object:create, and persists it
// asynchronously. The only error is an unknown type; persistence failures
// land in the durable queue instead of propagating.
func (s *Session) Create(typ board.ObjectType, x, y float64, overrides map[string]any) (board.Object, error) {
	if !typ.Valid() {
		return board.Object{}, fmt.Errorf("%w: %q", board.ErrUnknownType, typ)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return board.Object{}, ErrClosed
	}
	stamp := board.Stamp(s.clock.Now())
	obj := board.Object{
		ID:        uuid.NewString(),
		BoardID:   s.boardID,
		Type:      typ,
		CreatedBy: s.userID,
		CreatedAt: stamp,
		UpdatedAt: stamp,
	}
	if defaults, ok := board.DefaultsFor(typ); ok {
		obj.Width = defaults.Width
		obj.Height = defaults.Height
		obj.Color = defaults.Color
	}
	// Centering uses the type's default dimensions even when overrides
	// resize the object, matching how peers place their own creations.
	obj.X = x - obj.Width/2
	obj.Y = y - obj.Height/2
	if typ == board.TypeFrame {
		obj.ZIndex = board.FrameZIndex
	} else {
		obj.ZIndex = s.store.MaxZIndex() + 1
	}
	obj = board.ApplyChanges(obj, overrides)
	s.store.Add(obj)
	env, encErr := s.envelope(transport.EventObjectCreate, transport.CreatePayload{Object: obj})
	s.mu.Unlock()

	if encErr != nil {
		s.logger.Debug("encode create broadcast", "objectId", obj.ID, "error", encErr)
	} else {
		s.broadcast(env)
	}
	go s.persistCreate(obj)
	return obj, nil
}

// Update applies changes to the store immediately with a fresh timestamp,
// broadcasts the stamped change set, and schedules the per-object debounce:
// one Patch per object per quiet window, carrying the field-wise union of
// every change set in that window (later values win).
func (s *Session) Update(id string, changes map[string]any) {
	if len(changes) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	stamp := board.Stamp(s.clock.Now())
	if _, ok := s.store.Update(id, changes, stamp); !ok {
		s.mu.Unlock()
		s.logger.Debug("update for unknown object", "objectId", id)
		return
	}

	stamped := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		stamped[k] = v
	}
	stamped["updatedAt"] = stamp
	env, encErr := s.envelope(transport.EventObjectUpdate, transport.UpdatePayload{ObjectID: id, Changes: stamped})

	if entry, ok := s.debounced[id]; ok {
		for k, v := range stamped {
			entry.changes[k] = v
		}
		entry.timer.Reset(s.debounceInterval)
	} else {
		entry := &debounceEntry{changes: stamped}
		entry.timer = s.clock.AfterFunc(s.debounceInterval, func() {
			s.debounceFire(id)
		})
		s.debounced[id] = entry
	}
	s.mu.Unlock()

	if encErr != nil {
		s.logger.Debug("encode update broadcast", "objectId", id, "error", encErr)
		return
	}
	s.broadcast(env)
}

// Delete discards any pending debounce for the object, removes it from the
// store, broadcasts object:delete, and persists the delete asynchronously.
func (s *Session) Delete(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if entry, ok := s.debounced[id]; ok {
		entry.timer.Stop()
		delete(s.debounced, id)
	}
	if !s.store.Delete(id) {
		s.mu.Unlock()
		s.logger.Debug("delete for unknown object", "objectId", id)
		return
	}
	env, encErr := s.envelope(transport.EventObjectDelete, transport.DeletePayload{ObjectID: id})
	s.mu.Unlock()

	if encErr != nil {
		s.logger.Debug("encode delete broadcast", "objectId", id, "error", encErr)
	} else {
		s.broadcast(env)
	}
	go s.persistDelete(id)
}

// LiveMove broadcasts an object:update envelope without touching the store
// or persistence, throttled to one send per interval across the session.
// Drag handlers call this on every pointer move; the final position arrives
// through Update when the drag ends.
func (s *Session) LiveMove(id string, changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	env, err := s.envelope(transport.EventObjectUpdate, transport.UpdatePayload{ObjectID: id, Changes: changes})
	if err != nil {
		s.logger.Debug("encode live move", "objectId", id, "error", err)
		return
	}
	s.throttled(&s.moveThrottle, env, s.broadcast)
}

// SendPreview fans payload out on the cursors channel under the preview
// throttle. Previews are ephemeral: when the channel is down they are
// dropped, never pended.
func (s *Session) SendPreview(event string, payload any) {
	switch event {
	case transport.EventDrawPreview, transport.EventConnectorPreview, transport.EventShapePreview:
	default:
		s.logger.Debug("drop unknown preview event", "event", event)
		return
	}
	env, err := s.envelope(event, payload)
	if err != nil {
		s.logger.Debug("encode preview", "event", event, "error", err)
		return
	}
	s.throttled(&s.previewThrottle, env, s.sendEphemeral)
}

func (s *Session) sendEphemeral(env transport.Envelope) {
	s.mu.Lock()
	ch := s.cursorsCh
	subscribed := s.cursorsSubscribed
	closed := s.closed
	s.mu.Unlock()
	if closed || ch == nil || !subscribed {
		return
	}
	s.send(ch, env)
}

// throttled sends env immediately when the window since the last send has
// elapsed; otherwise it stashes env (superseding any stashed payload) and
// arms a trailing timer for the remainder of the window.
func (s *Session) throttled(t *throttle, env transport.Envelope, send func(transport.Envelope)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	elapsed := now.Sub(t.lastSend)
	if t.timer == nil && (t.lastSend.IsZero() || elapsed >= s.throttleInterval) {
		t.lastSend = now
		s.mu.Unlock()
		send(env)
		return
	}
	t.pending = &env
	if t.timer == nil {
		t.timer = s.clock.AfterFunc(s.throttleInterval-elapsed, func() {
			s.throttleFire(t, send)
		})
	}
	s.mu.Unlock()
}

func (s *Session) throttleFire(t *throttle, send func(transport.Envelope)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	t.timer = nil
	env := t.pending
	t.pending = nil
	if env == nil {
		s.mu.Unlock()
		return
	}
	t.lastSend = s.clock.Now()
	s.mu.Unlock()
	send(*env)
}

// debounceFire persists one object's accumulated change set. Runs on the
// timer goroutine.
func (s *Session) debounceFire(id string) {
	s.mu.Lock()
	entry, ok := s.debounced[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.debounced, id)
	changes := entry.changes
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.persistTimeout)
	defer cancel()
	err := s.persist.Patch(ctx, id, changes)
	if err == nil {
		return
	}
	if errors.Is(err, persist.ErrNotFound) {
		s.logger.Debug("patch for object missing upstream", "objectId", id)
		return
	}
	s.logger.Warn("patch failed, queueing", "objectId", id, "error", err)
	s.enqueue(queue.UpdateWrite(id, changes, board.Stamp(s.clock.Now())))
}

func (s *Session) persistCreate(obj board.Object) {
	ctx, cancel := context.WithTimeout(s.ctx, s.persistTimeout)
	defer cancel()
	if err := s.persist.Create(ctx, obj); err != nil {
		s.logger.Warn("create failed, queueing", "objectId", obj.ID, "error", err)
		s.enqueue(queue.CreateWrite(obj, board.Stamp(s.clock.Now())))
	}
}

func (s *Session) persistDelete(id string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.persistTimeout)
	defer cancel()
	err := s.persist.Delete(ctx, id)
	if err == nil || errors.Is(err, persist.ErrNotFound) {
		return
	}
	s.logger.Warn("delete failed, queueing", "objectId", id, "error", err)
	s.enqueue(queue.DeleteWrite(id, board.Stamp(s.clock.Now())))
}

// enqueue appends a durable write. The append deliberately ignores the
// session context so a write captured during shutdown still lands.
func (s *Session) enqueue(write queue.PendingWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.queue.Append(ctx, s.boardID, write); err != nil {
		s.logger.Error("queue append failed", "kind", write.Kind, "error", err)
	}
}
