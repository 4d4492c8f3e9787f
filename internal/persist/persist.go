// Package persist talks to the durable home of board objects. The
// synchronization engine treats it as a best-effort gateway: every call is
// independent, idempotent to retry, and a failure never takes the session
// down. Callers degrade to the offline write queue instead.
package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
)

var (
	// ErrNotFound reports that the addressed object does not exist. Patch
	// and delete callers treat it as a benign outcome: the object is gone
	// (or never made it) and there is nothing left to do.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidInput reports a request the client refuses to send.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented is returned by Open for schemes that are reserved
	// but not wired up.
	ErrNotImplemented = errors.New("not implemented")
)

// Client is the persistence gateway used by the synchronization engine.
//
// FetchAll returns every object on a board. Create inserts a full object
// and must tolerate re-insertion, since replays after a crash repeat it.
// Patch merges a change set into an existing object and Delete removes one;
// both return ErrNotFound when the id is unknown.
type Client interface {
	FetchAll(ctx context.Context, boardID string) ([]board.Object, error)
	Create(ctx context.Context, obj board.Object) error
	Patch(ctx context.Context, objectID string, changes map[string]any) error
	Delete(ctx context.Context, objectID string) error
	Close() error
}

// StatusError reports a non-success HTTP status from the board service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("persist: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("persist: status %d: %s", e.Code, e.Message)
}

// Is maps 404 responses onto ErrNotFound so callers can use errors.Is
// without caring which backend produced the miss.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == 404
}
