// Package queue provides the durable offline write queue: an append-only,
// ordered, per-board log of mutations that failed to persist, stored outside
// process memory so it survives a restart. The queue never deduplicates or
// compacts; superseding earlier entries is a policy decision left to the
// caller.
package queue

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

var (
	// ErrInvalidInput reports a malformed write or dsn.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotImplemented reports a recognized but unavailable backend.
	ErrNotImplemented = errors.New("not implemented")
)

// Kind discriminates PendingWrite variants.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// PendingWrite is one mutation awaiting replay against the persistence
// layer. Object is set for creates; ObjectID for updates and deletes;
// Changes carries the accumulated change set for updates.
type PendingWrite struct {
	Kind     Kind           `json:"kind"`
	Object   *board.Object  `json:"object,omitempty"`
	ObjectID string         `json:"objectId,omitempty"`
	Changes  map[string]any `json:"changes,omitempty"`
	QueuedAt string         `json:"queuedAt,omitempty"`
}

// CreateWrite builds the pending form of a failed create.
func CreateWrite(obj board.Object, queuedAt string) PendingWrite {
	cloned := obj.Clone()
	return PendingWrite{Kind: KindCreate, Object: &cloned, ObjectID: obj.ID, QueuedAt: queuedAt}
}

// UpdateWrite builds the pending form of a failed update with its
// accumulated change set.
func UpdateWrite(objectID string, changes map[string]any, queuedAt string) PendingWrite {
	return PendingWrite{Kind: KindUpdate, ObjectID: objectID, Changes: cloneChanges(changes), QueuedAt: queuedAt}
}

// DeleteWrite builds the pending form of a failed delete.
func DeleteWrite(objectID string, queuedAt string) PendingWrite {
	return PendingWrite{Kind: KindDelete, ObjectID: objectID, QueuedAt: queuedAt}
}

func (w PendingWrite) validate() error {
	switch w.Kind {
	case KindCreate:
		if w.Object == nil || strings.TrimSpace(w.Object.ID) == "" {
			return ErrInvalidInput
		}
	case KindUpdate:
		if strings.TrimSpace(w.ObjectID) == "" || len(w.Changes) == 0 {
			return ErrInvalidInput
		}
	case KindDelete:
		if strings.TrimSpace(w.ObjectID) == "" {
			return ErrInvalidInput
		}
	default:
		return ErrInvalidInput
	}
	return nil
}

func (w PendingWrite) clone() PendingWrite {
	out := w
	if w.Object != nil {
		cloned := w.Object.Clone()
		out.Object = &cloned
	}
	out.Changes = cloneChanges(w.Changes)
	return out
}

func cloneChanges(changes map[string]any) map[string]any {
	if changes == nil {
		return nil
	}
	out := make(map[string]any, len(changes))
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// Queue is the durable offline write queue contract: append, ordered
// read-all, clear.
type Queue interface {
	Append(ctx context.Context, boardID string, write PendingWrite) error
	All(ctx context.Context, boardID string) ([]PendingWrite, error)
	Clear(ctx context.Context, boardID string) error
	Close() error
}

type memoryQueue struct {
	mu     sync.Mutex
	boards map[string][]PendingWrite
}

// NewMemoryQueue returns a queue that lives in process memory. It satisfies
// the contract but not the durability requirement; meant for tests and
// ephemeral runs.
func NewMemoryQueue() Queue {
	return &memoryQueue{boards: make(map[string][]PendingWrite)}
}

func (q *memoryQueue) Append(ctx context.Context, boardID string, write PendingWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(boardID) == "" {
		return ErrInvalidInput
	}
	if err := write.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.boards[boardID] = append(q.boards[boardID], write.clone())
	return nil
}

func (q *memoryQueue) All(ctx context.Context, boardID string) ([]PendingWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.boards[boardID]
	out := make([]PendingWrite, 0, len(entries))
	for _, w := range entries {
		out = append(out, w.clone())
	}
	return out, nil
}

func (q *memoryQueue) Clear(ctx context.Context, boardID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.boards, boardID)
	return nil
}

func (q *memoryQueue) Close() error { return nil }
