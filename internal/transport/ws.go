package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/pakhunchan/collab-board-sub000/internal/conn"
)

const (
	defaultDialTimeout = 10 * time.Second
	wsReadLimit        = 1 << 20
)

// ErrNotConnected reports a send attempted while the websocket link is down.
// The next Join re-dials.
var ErrNotConnected = errors.New("websocket not connected")

// Relay frames. The client drives joins and publishes; the relay fans every
// published envelope back out to all joined connections, the publisher
// included.
type wsClientFrame struct {
	Action   string          `json:"action"` // "join", "leave" or "publish"
	Topic    string          `json:"topic"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
}

type wsServerFrame struct {
	Topic    string          `json:"topic"`
	Envelope json.RawMessage `json:"envelope"`
}

// WebsocketOptions configures a websocket relay transport.
type WebsocketOptions struct {
	// URL of the relay endpoint, e.g. "wss://relay.example.com/ws".
	URL string
	// DialTimeout bounds connection establishment. Defaults to 10s.
	DialTimeout time.Duration
	// HTTPClient optionally overrides the client used for the handshake.
	HTTPClient *http.Client
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// WebsocketTransport multiplexes topics over one relay connection. The
// connection is dialed lazily on the first Join and re-dialed by the next
// Join after a drop. A read failure reports channel_error to every joined
// handler; a clean shutdown reports closed; a dial that exceeds the timeout
// reports timed_out.
type WebsocketTransport struct {
	url         string
	dialTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger

	mu         sync.Mutex
	wc         *websocket.Conn
	pumpCancel context.CancelFunc
	joined     map[string]*wsChannel
	closed     bool
}

// NewWebsocketTransport validates opts and returns a transport. No
// connection is made until the first Join.
func NewWebsocketTransport(opts WebsocketOptions) (*WebsocketTransport, error) {
	rawURL := strings.TrimSpace(opts.URL)
	if rawURL == "" {
		return nil, fmt.Errorf("%w: websocket URL is required", ErrInvalidInput)
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsocketTransport{
		url:         rawURL,
		dialTimeout: dialTimeout,
		httpClient:  opts.HTTPClient,
		logger:      logger,
		joined:      make(map[string]*wsChannel),
	}, nil
}

// Join subscribes to topic, dialing the relay first when no connection is
// up. The handler sees subscribed once the join frame is on the wire.
func (t *WebsocketTransport) Join(ctx context.Context, topic string, h Handler) (Channel, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	wc, err := t.ensureConnLocked(ctx)
	if err != nil {
		t.mu.Unlock()
		st := conn.StatusChannelError
		if errors.Is(err, context.DeadlineExceeded) {
			st = conn.StatusTimedOut
		}
		h.status(st)
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	ch := &wsChannel{transport: t, topic: topic, handler: h}
	t.joined[topic] = ch
	t.mu.Unlock()

	if err := t.writeFrame(ctx, wc, wsClientFrame{Action: "join", Topic: topic}); err != nil {
		t.mu.Lock()
		if t.joined[topic] == ch {
			delete(t.joined, topic)
		}
		t.mu.Unlock()
		h.status(conn.StatusChannelError)
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}

	h.status(conn.StatusSubscribed)
	return ch, nil
}

// Close tears the connection down and reports closed to every joined
// handler.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	wc := t.wc
	t.wc = nil
	cancel := t.pumpCancel
	t.pumpCancel = nil
	channels := make([]*wsChannel, 0, len(t.joined))
	for _, ch := range t.joined {
		channels = append(channels, ch)
	}
	t.joined = make(map[string]*wsChannel)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wc != nil {
		_ = wc.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	for _, ch := range channels {
		ch.handler.status(conn.StatusClosed)
	}
	return nil
}

// ensureConnLocked returns the live connection, dialing one when needed.
// After a re-dial it replays join frames for every topic that is still
// joined. Caller holds t.mu.
func (t *WebsocketTransport) ensureConnLocked(ctx context.Context) (*websocket.Conn, error) {
	if t.wc != nil {
		return t.wc, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()
	wc, _, err := websocket.Dial(dialCtx, t.url, &websocket.DialOptions{HTTPClient: t.httpClient})
	if err != nil {
		return nil, err
	}
	wc.SetReadLimit(wsReadLimit)
	t.wc = wc

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	t.pumpCancel = pumpCancel
	go t.readPump(pumpCtx, wc)

	for topic := range t.joined {
		if err := t.writeFrame(ctx, wc, wsClientFrame{Action: "join", Topic: topic}); err != nil {
			t.logger.Warn("rejoin after redial failed", "topic", topic, "error", err)
		}
	}
	return wc, nil
}

// readPump delivers relay frames to the matching channel until the
// connection fails or the transport closes.
func (t *WebsocketTransport) readPump(ctx context.Context, wc *websocket.Conn) {
	for {
		_, data, err := wc.Read(ctx)
		if err != nil {
			t.handleReadFailure(wc, err)
			return
		}
		var frame wsServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Debug("dropping malformed relay frame", "error", err)
			continue
		}
		env, err := DecodeEnvelope(frame.Envelope)
		if err != nil {
			t.logger.Debug("dropping invalid envelope", "topic", frame.Topic, "error", err)
			continue
		}
		t.mu.Lock()
		ch := t.joined[frame.Topic]
		t.mu.Unlock()
		if ch != nil {
			ch.handler.envelope(env)
		}
	}
}

func (t *WebsocketTransport) handleReadFailure(wc *websocket.Conn, err error) {
	t.mu.Lock()
	if t.wc != wc {
		// A newer connection owns the channels now.
		t.mu.Unlock()
		return
	}
	t.wc = nil
	if t.pumpCancel != nil {
		t.pumpCancel()
		t.pumpCancel = nil
	}
	closedCleanly := t.closed || websocket.CloseStatus(err) == websocket.StatusNormalClosure
	channels := make([]*wsChannel, 0, len(t.joined))
	for _, ch := range t.joined {
		channels = append(channels, ch)
	}
	t.mu.Unlock()

	st := conn.StatusChannelError
	if closedCleanly {
		st = conn.StatusClosed
	} else {
		t.logger.Warn("websocket connection lost", "url", t.url, "error", err)
	}
	for _, ch := range channels {
		ch.handler.status(st)
	}
}

func (t *WebsocketTransport) writeFrame(ctx context.Context, wc *websocket.Conn, frame wsClientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return wc.Write(ctx, websocket.MessageText, data)
}

type wsChannel struct {
	transport *WebsocketTransport
	topic     string
	handler   Handler

	mu   sync.Mutex
	left bool
}

func (c *wsChannel) Topic() string { return c.topic }

// Send publishes env through the relay. Fails with ErrNotConnected while
// the link is down; the caller tolerates lost broadcasts and the next
// resync repairs state.
func (c *wsChannel) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()
	if left {
		return ErrClosed
	}
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	c.transport.mu.Lock()
	wc := c.transport.wc
	c.transport.mu.Unlock()
	if wc == nil {
		return fmt.Errorf("send %s: %w", c.topic, ErrNotConnected)
	}
	return c.transport.writeFrame(ctx, wc, wsClientFrame{Action: "publish", Topic: c.topic, Envelope: data})
}

// Leave sends a leave frame (best effort) and reports closed.
func (c *wsChannel) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	t := c.transport
	t.mu.Lock()
	if t.joined[c.topic] == c {
		delete(t.joined, c.topic)
	}
	wc := t.wc
	t.mu.Unlock()

	if wc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := t.writeFrame(ctx, wc, wsClientFrame{Action: "leave", Topic: c.topic}); err != nil {
			t.logger.Debug("leave frame failed", "topic", c.topic, "error", err)
		}
	}
	c.handler.status(conn.StatusClosed)
	return nil
}
