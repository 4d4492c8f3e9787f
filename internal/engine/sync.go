package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/pakhunchan/collab-board-sub000/internal/persist"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
	"github.com/pakhunchan/collab-board-sub000/internal/transport"
)

// Resync handles one reconnect generation: rejoin both channels, re-fetch
// the authoritative snapshot, reconcile it into the store last-write-wins,
// and replay every object that exists only locally as a create. Stale and
// duplicate generations are discarded, as is a fetch result that a newer
// generation overtook while it was in flight.
func (s *Session) Resync(generation int) {
	s.mu.Lock()
	if s.closed || generation <= s.lastGeneration {
		s.mu.Unlock()
		return
	}
	s.lastGeneration = generation
	s.mu.Unlock()

	s.logger.Info("resync", "boardId", s.boardID, "generation", generation)

	if err := s.joinChannels(s.ctx); err != nil {
		// Channel joins fail independently of the snapshot fetch; the
		// manager keeps cycling until both subscriptions land.
		s.logger.Warn("rejoin channels", "generation", generation, "error", err)
	}

	objects, err := s.fetchSnapshot(s.ctx)
	if err != nil {
		s.logger.Warn("resync fetch failed", "generation", generation, "error", err)
		return
	}

	s.mu.Lock()
	if s.closed || generation < s.lastGeneration {
		s.mu.Unlock()
		s.logger.Debug("discarding overtaken snapshot", "generation", generation)
		return
	}
	localOnly := s.store.Reconcile(objects)
	s.mu.Unlock()

	for _, obj := range localOnly {
		env, err := s.envelope(transport.EventObjectCreate, transport.CreatePayload{Object: obj})
		if err != nil {
			s.logger.Debug("encode replay create", "objectId", obj.ID, "error", err)
		} else {
			s.broadcast(env)
		}
		go s.persistCreate(obj)
	}
	if len(localOnly) > 0 {
		s.logger.Info("replayed local-only objects", "count", len(localOnly))
	}
}

// flushPendingWrites replays the durable queue strictly in order. Any
// failure halts the run, leaves the queue untouched for the next session,
// and sends none of the staged broadcasts; on full success the queue is
// cleared and the staged broadcasts go out in order.
func (s *Session) flushPendingWrites(ctx context.Context) {
	writes, err := s.queue.All(ctx, s.boardID)
	if err != nil {
		s.logger.Warn("read pending writes", "error", err)
		return
	}
	if len(writes) == 0 {
		return
	}

	staged := make([]transport.Envelope, 0, len(writes))
	for _, w := range writes {
		env, err := s.replayWrite(ctx, w)
		if err != nil {
			s.logger.Warn("pending write replay halted", "kind", w.Kind, "error", err)
			return
		}
		if env != nil {
			staged = append(staged, *env)
		}
	}

	if err := s.queue.Clear(ctx, s.boardID); err != nil {
		s.logger.Warn("clear pending writes", "error", err)
	}
	for _, env := range staged {
		s.broadcast(env)
	}
	s.logger.Info("replayed pending writes", "boardId", s.boardID, "count", len(writes))
}

// replayWrite applies one queued write upstream and returns the broadcast
// to stage for it, or an error that halts the replay run. ErrNotFound on
// update and delete replays counts as success: the object is already gone
// upstream and the entry must not wedge the queue.
func (s *Session) replayWrite(ctx context.Context, w queue.PendingWrite) (*transport.Envelope, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	switch w.Kind {
	case queue.KindCreate:
		if w.Object == nil {
			s.logger.Debug("skip malformed pending create", "queuedAt", w.QueuedAt)
			return nil, nil
		}
		if err := s.persist.Create(opCtx, *w.Object); err != nil {
			return nil, fmt.Errorf("replay create %s: %w", w.Object.ID, err)
		}
		s.store.Add(*w.Object)
		return s.stage(transport.EventObjectCreate, transport.CreatePayload{Object: *w.Object})
	case queue.KindUpdate:
		if err := s.persist.Patch(opCtx, w.ObjectID, w.Changes); err != nil && !errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("replay update %s: %w", w.ObjectID, err)
		}
		return s.stage(transport.EventObjectUpdate, transport.UpdatePayload{ObjectID: w.ObjectID, Changes: w.Changes})
	case queue.KindDelete:
		if err := s.persist.Delete(opCtx, w.ObjectID); err != nil && !errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("replay delete %s: %w", w.ObjectID, err)
		}
		return s.stage(transport.EventObjectDelete, transport.DeletePayload{ObjectID: w.ObjectID})
	default:
		s.logger.Debug("skip pending write of unknown kind", "kind", w.Kind)
		return nil, nil
	}
}

func (s *Session) stage(event string, payload any) (*transport.Envelope, error) {
	env, err := s.envelope(event, payload)
	if err != nil {
		s.logger.Debug("encode staged broadcast", "event", event, "error", err)
		return nil, nil
	}
	return &env, nil
}
