package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/pakhunchan/collab-board-sub000/internal/conn"
)

// RedisOptions configures a redis pub/sub transport.
type RedisOptions struct {
	// DSN in redis:// or rediss:// form.
	DSN string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RedisTransport fans envelopes out through redis pub/sub. Each Join holds
// its own subscription; Redis delivers published messages to every
// subscriber, the publisher included, so echo suppression applies the same
// way it does on a relay.
type RedisTransport struct {
	client *redis.Client
	logger *slog.Logger

	mu       sync.Mutex
	closed   bool
	channels map[*redisChannel]struct{}
}

// NewRedisTransport parses dsn and returns a transport. The connection is
// established lazily by the client.
func NewRedisTransport(opts RedisOptions) (*RedisTransport, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: redis dsn is required", ErrInvalidInput)
	}
	redisOpts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTransport{
		client:   redis.NewClient(redisOpts),
		logger:   logger,
		channels: make(map[*redisChannel]struct{}),
	}, nil
}

// Join subscribes to topic and reports subscribed once redis confirms the
// subscription.
func (t *RedisTransport) Join(ctx context.Context, topic string, h Handler) (Channel, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.mu.Unlock()

	pubsub := t.client.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		st := conn.StatusChannelError
		if errors.Is(err, context.DeadlineExceeded) {
			st = conn.StatusTimedOut
		}
		h.status(st)
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ch := &redisChannel{transport: t, topic: topic, handler: h, pubsub: pubsub}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = pubsub.Close()
		return nil, ErrClosed
	}
	t.channels[ch] = struct{}{}
	t.mu.Unlock()

	go ch.readLoop()
	h.status(conn.StatusSubscribed)
	return ch, nil
}

// Close tears down every subscription and the client.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := make([]*redisChannel, 0, len(t.channels))
	for ch := range t.channels {
		channels = append(channels, ch)
	}
	t.channels = make(map[*redisChannel]struct{})
	t.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown()
	}
	return t.client.Close()
}

func (t *RedisTransport) remove(ch *redisChannel) {
	t.mu.Lock()
	delete(t.channels, ch)
	t.mu.Unlock()
}

type redisChannel struct {
	transport *RedisTransport
	topic     string
	handler   Handler
	pubsub    *redis.PubSub

	mu   sync.Mutex
	left bool
}

func (c *redisChannel) Topic() string { return c.topic }

// Send publishes env to the topic.
func (c *redisChannel) Send(ctx context.Context, env Envelope) error {
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
	return c.transport.client.Publish(ctx, c.topic, data).Err()
}

// Leave closes the subscription and reports closed.
func (c *redisChannel) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	c.transport.remove(c)
	err := c.pubsub.Close()
	c.handler.status(conn.StatusClosed)
	return err
}

// shutdown is Leave driven by the transport closing, without the registry
// callback.
func (c *redisChannel) shutdown() {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	c.mu.Unlock()

	_ = c.pubsub.Close()
	c.handler.status(conn.StatusClosed)
}

// readLoop delivers messages until the subscription closes. go-redis keeps
// the subscription alive across reconnects, so the loop ending outside
// Leave means the channel is genuinely broken.
func (c *redisChannel) readLoop() {
	for msg := range c.pubsub.Channel() {
		env, err := DecodeEnvelope([]byte(msg.Payload))
		if err != nil {
			c.transport.logger.Debug("dropping invalid envelope", "topic", c.topic, "error", err)
			continue
		}
		c.handler.envelope(env)
	}
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()
	if left {
		return
	}
	c.handler.status(conn.StatusChannelError)
}
