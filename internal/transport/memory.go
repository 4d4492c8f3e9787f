package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pakhunchan/collab-board-sub000/internal/conn"
)

// MemoryHub is an in-process Transport. Every envelope sent to a topic is
// delivered synchronously to all channels joined to it, including the
// sender's own, which is the same loopback a shared broker produces; echo
// suppression gets exercised without a network.
type MemoryHub struct {
	mu     sync.Mutex
	topics map[string][]*memoryChannel
	closed bool
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{topics: make(map[string][]*memoryChannel)}
}

// Join subscribes to topic. The handler sees subscribed before Join returns.
func (h *MemoryHub) Join(ctx context.Context, topic string, handler Handler) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	ch := &memoryChannel{hub: h, topic: topic, handler: handler}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.topics[topic] = append(h.topics[topic], ch)
	h.mu.Unlock()

	handler.status(conn.StatusSubscribed)
	return ch, nil
}

// Close detaches every channel and reports closed to each handler.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []*memoryChannel
	for _, subs := range h.topics {
		all = append(all, subs...)
	}
	h.topics = make(map[string][]*memoryChannel)
	h.mu.Unlock()

	for _, ch := range all {
		ch.markLeft()
		ch.handler.status(conn.StatusClosed)
	}
	return nil
}

func (h *MemoryHub) publish(topic string, env Envelope) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*memoryChannel, len(h.topics[topic]))
	copy(subs, h.topics[topic])
	h.mu.Unlock()

	for _, ch := range subs {
		ch.handler.envelope(env)
	}
	return nil
}

func (h *MemoryHub) remove(target *memoryChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[target.topic]
	for i, ch := range subs {
		if ch == target {
			h.topics[target.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.topics[target.topic]) == 0 {
		delete(h.topics, target.topic)
	}
}

type memoryChannel struct {
	hub     *MemoryHub
	topic   string
	handler Handler

	mu   sync.Mutex
	left bool
}

func (c *memoryChannel) Topic() string { return c.topic }

// Send validates env and delivers it to every subscriber of the topic,
// the sender included.
func (c *memoryChannel) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()
	if left {
		return ErrClosed
	}
	// Round-trip through the codec so memory runs exercise the same
	// validation as networked ones.
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	decoded, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	return c.hub.publish(c.topic, decoded)
}

func (c *memoryChannel) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	c.hub.remove(c)
	c.handler.status(conn.StatusClosed)
	return nil
}

func (c *memoryChannel) markLeft() {
	c.mu.Lock()
	c.left = true
	c.mu.Unlock()
}
