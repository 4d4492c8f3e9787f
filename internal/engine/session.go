// Package engine drives one board's synchronization session: optimistic
// local mutation, broadcast fan-out, debounced persistence, a durable
// offline write queue, and reconnect reconciliation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pakhunchan/collab-board-sub000/internal/board"
	"github.com/pakhunchan/collab-board-sub000/internal/clock"
	"github.com/pakhunchan/collab-board-sub000/internal/conn"
	"github.com/pakhunchan/collab-board-sub000/internal/persist"
	"github.com/pakhunchan/collab-board-sub000/internal/queue"
	"github.com/pakhunchan/collab-board-sub000/internal/transport"
)

const (
	// DefaultDebounceInterval is the per-object quiet window before an
	// accumulated change set is persisted.
	DefaultDebounceInterval = 300 * time.Millisecond
	// DefaultThrottleInterval is the minimum spacing between live-move
	// (and preview) broadcasts.
	DefaultThrottleInterval = 50 * time.Millisecond
	// DefaultPersistTimeout bounds each persistence call.
	DefaultPersistTimeout = 10 * time.Second
)

// Channel names reported to the connection manager. The manager considers
// the session connected once both are subscribed.
const (
	objectsChannelID = "objects"
	cursorsChannelID = "cursors"
)

var (
	// ErrInvalidInput is returned when a required option is missing.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Options configures a Session. BoardID, UserID, Store, Queue, Persist, and
// Transport are required; everything else has a usable zero value.
type Options struct {
	// BoardID names the board this session mirrors.
	BoardID string
	// UserID is recorded as CreatedBy on objects this session creates.
	UserID string
	// SenderID tags outgoing envelopes so the session can drop its own
	// echoes. Empty selects a fresh UUID.
	SenderID string

	Store     *board.Store
	Queue     queue.Queue
	Persist   persist.Client
	Transport transport.Transport

	// Clock drives debounce and throttle timers. Nil selects the real
	// clock.
	Clock clock.Clock
	// Logger receives session records. Nil selects slog.Default().
	Logger *slog.Logger

	// DebounceInterval overrides DefaultDebounceInterval when positive.
	DebounceInterval time.Duration
	// ThrottleInterval overrides DefaultThrottleInterval when positive.
	ThrottleInterval time.Duration
	// PersistTimeout overrides DefaultPersistTimeout when positive.
	PersistTimeout time.Duration

	// OnBoardEvent receives board-level events that are surfaced rather
	// than stored: access:revoked, board:deleted, member:joined, and the
	// ephemeral previews. Called from transport goroutines.
	OnBoardEvent func(event string, payload json.RawMessage)
}

// Session owns one board's client-side sync state: the in-memory store, the
// durable write queue, the persistence client, and both transport channels.
// Ordering decisions (debounce bookkeeping, throttle timestamps, the
// pending-broadcast queue, generation checks) happen under one mutex;
// network calls always run outside it.
type Session struct {
	boardID  string
	userID   string
	senderID string

	store     *board.Store
	queue     queue.Queue
	persist   persist.Client
	transport transport.Transport

	clock  clock.Clock
	logger *slog.Logger

	debounceInterval time.Duration
	throttleInterval time.Duration
	persistTimeout   time.Duration

	onBoardEvent func(event string, payload json.RawMessage)

	// ctx is canceled by Close and aborts in-flight persistence calls.
	ctx    context.Context
	cancel context.CancelFunc

	// joinMu serializes join/leave cycles so concurrent resyncs cannot
	// interleave channel ownership.
	joinMu sync.Mutex

	mu                sync.Mutex
	closed            bool
	started           bool
	manager           *conn.Manager
	objectsCh         transport.Channel
	cursorsCh         transport.Channel
	objectsSubscribed bool
	cursorsSubscribed bool
	pendingBroadcasts []transport.Envelope
	debounced         map[string]*debounceEntry
	moveThrottle      throttle
	previewThrottle   throttle
	lastGeneration    int
}

// debounceEntry accumulates one object's change sets until the quiet window
// elapses.
type debounceEntry struct {
	timer   clock.Timer
	changes map[string]any
}

// throttle is leading-edge rate limiting with one trailing slot: the newest
// payload inside the window supersedes any stashed one and goes out when the
// trailing timer fires.
type throttle struct {
	lastSend time.Time
	timer    clock.Timer
	pending  *transport.Envelope
}

// NewSession builds a Session from opts. It does not touch the network;
// call Start to join channels and load the board.
func NewSession(opts Options) (*Session, error) {
	switch {
	case opts.BoardID == "":
		return nil, fmt.Errorf("%w: board id is required", ErrInvalidInput)
	case opts.UserID == "":
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	case opts.Queue == nil:
		return nil, fmt.Errorf("%w: queue is required", ErrInvalidInput)
	case opts.Persist == nil:
		return nil, fmt.Errorf("%w: persistence client is required", ErrInvalidInput)
	case opts.Transport == nil:
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidInput)
	}
	senderID := opts.SenderID
	if senderID == "" {
		senderID = uuid.NewString()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.DebounceInterval
	if debounce <= 0 {
		debounce = DefaultDebounceInterval
	}
	throttleInterval := opts.ThrottleInterval
	if throttleInterval <= 0 {
		throttleInterval = DefaultThrottleInterval
	}
	persistTimeout := opts.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = DefaultPersistTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		boardID:          opts.BoardID,
		userID:           opts.UserID,
		senderID:         senderID,
		store:            opts.Store,
		queue:            opts.Queue,
		persist:          opts.Persist,
		transport:        opts.Transport,
		clock:            clk,
		logger:           logger,
		debounceInterval: debounce,
		throttleInterval: throttleInterval,
		persistTimeout:   persistTimeout,
		onBoardEvent:     opts.OnBoardEvent,
		ctx:              ctx,
		cancel:           cancel,
		debounced:        make(map[string]*debounceEntry),
	}, nil
}

// BoardID returns the board this session mirrors.
func (s *Session) BoardID() string { return s.boardID }

// UserID returns the acting user id.
func (s *Session) UserID() string { return s.userID }

// SenderID returns the envelope tag used for echo suppression.
func (s *Session) SenderID() string { return s.senderID }

// Store returns the session's object store.
func (s *Session) Store() *board.Store { return s.store }

// PendingBroadcastCount reports how many broadcasts are waiting for the
// objects channel to come back.
func (s *Session) PendingBroadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingBroadcasts)
}

// Start joins both channels, loads the authoritative snapshot into the
// store, and replays any writes queued by an earlier run. mgr receives every
// channel status this session observes; wire its OnReconnect to Resync
// before calling Start.
func (s *Session) Start(ctx context.Context, mgr *conn.Manager) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%w: session already started", ErrInvalidInput)
	}
	s.started = true
	s.manager = mgr
	s.mu.Unlock()

	if err := s.joinChannels(ctx); err != nil {
		return err
	}
	objects, err := s.fetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}
	s.store.Load(objects)
	s.logger.Info("board loaded", "boardId", s.boardID, "objects", len(objects))
	s.flushPendingWrites(ctx)
	return nil
}

// Close cancels every timer and the session context, drops unsent pending
// broadcasts, and leaves both channels. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, entry := range s.debounced {
		entry.timer.Stop()
	}
	s.debounced = make(map[string]*debounceEntry)
	if s.moveThrottle.timer != nil {
		s.moveThrottle.timer.Stop()
	}
	s.moveThrottle.pending = nil
	if s.previewThrottle.timer != nil {
		s.previewThrottle.timer.Stop()
	}
	s.previewThrottle.pending = nil
	s.pendingBroadcasts = nil
	objectsCh, cursorsCh := s.objectsCh, s.cursorsCh
	s.objectsCh, s.cursorsCh = nil, nil
	s.mu.Unlock()

	s.cancel()
	if objectsCh != nil {
		if err := objectsCh.Leave(); err != nil {
			s.logger.Debug("leave objects channel", "error", err)
		}
	}
	if cursorsCh != nil {
		if err := cursorsCh.Leave(); err != nil {
			s.logger.Debug("leave cursors channel", "error", err)
		}
	}
	return nil
}

// joinChannels leaves any previous channels and joins both topics fresh.
// Status callbacks feed the manager and the session's own subscription
// flags.
func (s *Session) joinChannels(ctx context.Context) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	oldObjects, oldCursors := s.objectsCh, s.cursorsCh
	s.objectsCh, s.cursorsCh = nil, nil
	s.objectsSubscribed, s.cursorsSubscribed = false, false
	s.mu.Unlock()

	if oldObjects != nil {
		if err := oldObjects.Leave(); err != nil {
			s.logger.Debug("leave objects channel", "error", err)
		}
	}
	if oldCursors != nil {
		if err := oldCursors.Leave(); err != nil {
			s.logger.Debug("leave cursors channel", "error", err)
		}
	}

	objectsCh, err := s.transport.Join(ctx, transport.TopicObjects(s.boardID), transport.Handler{
		OnEnvelope: s.applyRemote,
		OnStatus: func(status conn.Status) {
			s.channelStatus(objectsChannelID, status)
		},
	})
	if err != nil {
		return fmt.Errorf("join objects channel: %w", err)
	}
	cursorsCh, err := s.transport.Join(ctx, transport.TopicCursors(s.boardID), transport.Handler{
		OnEnvelope: s.applyRemote,
		OnStatus: func(status conn.Status) {
			s.channelStatus(cursorsChannelID, status)
		},
	})
	if err != nil {
		if lerr := objectsCh.Leave(); lerr != nil {
			s.logger.Debug("leave objects channel", "error", lerr)
		}
		return fmt.Errorf("join cursors channel: %w", err)
	}

	s.mu.Lock()
	s.objectsCh = objectsCh
	s.cursorsCh = cursorsCh
	// Transports that confirm subscription synchronously report it before
	// the channel handle lands above, so re-check the drain condition.
	drain := s.objectsSubscribed && len(s.pendingBroadcasts) > 0
	s.mu.Unlock()
	if drain {
		s.drainPendingBroadcasts()
	}
	return nil
}

func (s *Session) fetchSnapshot(ctx context.Context) ([]board.Object, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	return s.persist.FetchAll(fetchCtx, s.boardID)
}

// channelStatus records a channel's health, forwards it to the manager, and
// drains pended broadcasts when the objects channel comes back.
func (s *Session) channelStatus(channel string, status conn.Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	subscribed := status == conn.StatusSubscribed
	switch channel {
	case objectsChannelID:
		s.objectsSubscribed = subscribed
	case cursorsChannelID:
		s.cursorsSubscribed = subscribed
	}
	mgr := s.manager
	drain := channel == objectsChannelID && subscribed &&
		s.objectsCh != nil && len(s.pendingBroadcasts) > 0
	s.mu.Unlock()

	if mgr != nil {
		mgr.ReportChannelStatus(channel, status)
	}
	if drain {
		s.drainPendingBroadcasts()
	}
}

// broadcast sends env on the objects channel, or pends it until the channel
// reports subscribed again.
func (s *Session) broadcast(env transport.Envelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ch := s.objectsCh
	if ch == nil || !s.objectsSubscribed {
		s.pendingBroadcasts = append(s.pendingBroadcasts, env)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.send(ch, env)
}

func (s *Session) drainPendingBroadcasts() {
	s.mu.Lock()
	ch := s.objectsCh
	if s.closed || ch == nil || !s.objectsSubscribed || len(s.pendingBroadcasts) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.pendingBroadcasts
	s.pendingBroadcasts = nil
	s.mu.Unlock()

	s.logger.Info("draining pending broadcasts", "count", len(pending))
	for _, env := range pending {
		s.send(ch, env)
	}
}

// send is best-effort: a failed broadcast is logged and dropped, and the
// next reconciliation corrects any divergence.
func (s *Session) send(ch transport.Channel, env transport.Envelope) {
	if err := ch.Send(s.ctx, env); err != nil {
		s.logger.Debug("broadcast failed", "event", env.Event, "error", err)
	}
}

func (s *Session) envelope(event string, payload any) (transport.Envelope, error) {
	env := transport.Envelope{Event: event, SenderID: s.senderID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return transport.Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// applyRemote dispatches one inbound envelope. Echoes of this session's own
// broadcasts are dropped; board-level events are surfaced through
// OnBoardEvent without touching the store.
func (s *Session) applyRemote(env transport.Envelope) {
	if env.SenderID == s.senderID {
		return
	}
	switch env.Event {
	case transport.EventObjectCreate:
		var p transport.CreatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("drop malformed create", "error", err)
			return
		}
		s.store.ApplyRemoteCreate(p.Object)
	case transport.EventObjectUpdate:
		var p transport.UpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("drop malformed update", "error", err)
			return
		}
		s.store.ApplyRemoteUpdate(p.ObjectID, p.Changes)
	case transport.EventObjectDelete:
		var p transport.DeletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("drop malformed delete", "error", err)
			return
		}
		s.store.ApplyRemoteDelete(p.ObjectID)
	case transport.EventObjectBatchUpdate:
		var p transport.BatchUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.Debug("drop malformed batch update", "error", err)
			return
		}
		s.store.ApplyRemoteBatchUpdate(p.Changes)
	case transport.EventAccessRevoked, transport.EventBoardDeleted, transport.EventMemberJoined,
		transport.EventDrawPreview, transport.EventConnectorPreview, transport.EventShapePreview:
		if s.onBoardEvent != nil {
			s.onBoardEvent(env.Event, env.Payload)
		}
	default:
		s.logger.Debug("drop unknown event", "event", env.Event)
	}
}
