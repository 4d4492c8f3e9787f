// Package transport carries board events between collaborators. A Transport
// hands out per-topic channels; each channel delivers validated envelopes to
// its handler and reports its own health so the connection lifecycle can
// react to drops.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/conn"
)

var (
	// ErrInvalidInput reports a request the transport refuses to send.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotImplemented is returned by Open for schemes that are reserved
	// but not wired up.
	ErrNotImplemented = errors.New("not implemented")

	// ErrClosed reports use of a transport or channel after Close/Leave.
	ErrClosed = errors.New("transport closed")
)

// Envelope is the one message shape that crosses the wire. SenderID carries
// the originating session so receivers can drop their own echoes; Payload
// stays opaque to the transport.
type Envelope struct {
	Event    string          `json:"event"`
	SenderID string          `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Event names understood by the synchronization engine. Object events mutate
// board state; the rest are surfaced to the host application.
const (
	EventObjectCreate      = "object:create"
	EventObjectUpdate      = "object:update"
	EventObjectDelete      = "object:delete"
	EventObjectBatchUpdate = "object:batch_update"

	EventAccessRevoked = "access:revoked"
	EventBoardDeleted  = "board:deleted"
	EventMemberJoined  = "member:joined"

	EventDrawPreview      = "draw:preview"
	EventConnectorPreview = "connector:preview"
	EventShapePreview     = "shape:preview"
)

// CreatePayload is the payload of an object:create envelope.
type CreatePayload struct {
	Object board.Object `json:"object"`
}

// UpdatePayload is the payload of an object:update envelope. Changes uses
// wire field names and carries the sender's updatedAt stamp.
type UpdatePayload struct {
	ObjectID string         `json:"objectId"`
	Changes  map[string]any `json:"changes"`
}

// DeletePayload is the payload of an object:delete envelope.
type DeletePayload struct {
	ObjectID string `json:"objectId"`
}

// BatchUpdatePayload is the payload of an object:batch_update envelope,
// keyed by object id.
type BatchUpdatePayload struct {
	Changes map[string]map[string]any `json:"changes"`
}

// TopicObjects names the shared-object topic for a board.
func TopicObjects(boardID string) string {
	return "board:" + boardID + ":objects"
}

// TopicCursors names the ephemeral cursor/preview topic for a board.
func TopicCursors(boardID string) string {
	return "board:" + boardID + ":cursors"
}

// Handler receives deliveries for one joined topic. Either callback may be
// nil. Callbacks run on transport goroutines and must not block for long.
type Handler struct {
	// OnEnvelope is called for every envelope that passes schema
	// validation, including the channel's own sends when the backend
	// loops them back.
	OnEnvelope func(Envelope)
	// OnStatus is called whenever the channel's health changes:
	// subscribed on join, closed on clean shutdown, channel_error on
	// failures, timed_out when establishing the link timed out.
	OnStatus func(conn.Status)
}

func (h Handler) envelope(env Envelope) {
	if h.OnEnvelope != nil {
		h.OnEnvelope(env)
	}
}

func (h Handler) status(st conn.Status) {
	if h.OnStatus != nil {
		h.OnStatus(st)
	}
}

// Transport joins topics. One Transport may back any number of channels.
type Transport interface {
	// Join subscribes to topic and starts delivering to h. The returned
	// channel is live until Leave or the transport closes.
	Join(ctx context.Context, topic string, h Handler) (Channel, error)
	// Close tears down every channel and the underlying connection.
	Close() error
}

// Channel is one joined topic.
type Channel interface {
	Topic() string
	// Send publishes env to every subscriber of the topic. Depending on
	// the backend the sender may receive its own envelope back.
	Send(ctx context.Context, env Envelope) error
	// Leave unsubscribes and reports closed to the handler.
	Leave() error
}
