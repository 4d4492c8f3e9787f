package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pakhunchan/collab-board-sub000/internal/conn"
)

// channelRecorder buffers deliveries so tests can wait on them without
// racing the transport goroutines.
type channelRecorder struct {
	envelopes chan Envelope
	statuses  chan conn.Status
}

func newChannelRecorder() *channelRecorder {
	return &channelRecorder{
		envelopes: make(chan Envelope, 16),
		statuses:  make(chan conn.Status, 16),
	}
}

func (r *channelRecorder) handler() Handler {
	return Handler{
		OnEnvelope: func(env Envelope) { r.envelopes <- env },
		OnStatus:   func(st conn.Status) { r.statuses <- st },
	}
}

func (r *channelRecorder) waitEnvelope(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-r.envelopes:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func (r *channelRecorder) waitStatus(t *testing.T, want conn.Status) {
	t.Helper()
	select {
	case st := <-r.statuses:
		if st != want {
			t.Fatalf("expected status %q, got %q", want, st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for status %q", want)
	}
}

func (r *channelRecorder) expectNoEnvelope(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case env := <-r.envelopes:
		t.Fatalf("unexpected envelope %q", env.Event)
	case <-time.After(wait):
	}
}

func mustPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func TestTopicNames(t *testing.T) {
	if got := TopicObjects("b1"); got != "board:b1:objects" {
		t.Fatalf("unexpected objects topic %q", got)
	}
	if got := TopicCursors("b1"); got != "board:b1:cursors" {
		t.Fatalf("unexpected cursors topic %q", got)
	}
}

func TestDecodeEnvelopeAcceptsValidMessage(t *testing.T) {
	raw := []byte(`{"event":"object:update","senderId":"s1","payload":{"objectId":"o1","changes":{"x":5}}}`)
	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Event != EventObjectUpdate || env.SenderID != "s1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var payload UpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ObjectID != "o1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestDecodeEnvelopeAllowsOmittedOptionalFields(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"member:joined"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Event != EventMemberJoined || env.SenderID != "" || env.Payload != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestDecodeEnvelopeRejectsInvalidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event":`},
		{"missing event", `{"senderId":"s1","payload":{}}`},
		{"empty event", `{"event":""}`},
		{"event wrong type", `{"event":5}`},
		{"payload not object", `{"event":"object:update","payload":[1,2]}`},
		{"unknown field", `{"event":"object:update","route":"x"}`},
		{"top level not object", `["object:update"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeEnvelope([]byte(tc.raw)); err == nil {
				t.Fatalf("expected %s to be rejected", tc.name)
			}
		})
	}
}

func TestEncodeEnvelopeRequiresEvent(t *testing.T) {
	if _, err := EncodeEnvelope(Envelope{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	data, err := EncodeEnvelope(Envelope{Event: EventBoardDeleted, SenderID: "s1"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if _, err := DecodeEnvelope(data); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
}

func TestOpenSelectsTransportByScheme(t *testing.T) {
	tr, err := Open("memory://")
	if err != nil {
		t.Fatalf("open memory failed: %v", err)
	}
	if _, ok := tr.(*MemoryHub); !ok {
		t.Fatalf("expected *MemoryHub, got %T", tr)
	}

	tr, err = Open("wss://relay.example.com/ws")
	if err != nil {
		t.Fatalf("open wss failed: %v", err)
	}
	if _, ok := tr.(*WebsocketTransport); !ok {
		t.Fatalf("expected *WebsocketTransport, got %T", tr)
	}

	tr, err = Open("redis://localhost:6379/0")
	if err != nil {
		t.Fatalf("open redis failed: %v", err)
	}
	if _, ok := tr.(*RedisTransport); !ok {
		t.Fatalf("expected *RedisTransport, got %T", tr)
	}
}

func TestOpenRejectsUnknownAndReservedSchemes(t *testing.T) {
	if _, err := Open("carrier-pigeon://coop"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := Open("nats://localhost:4222"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for nats, got %v", err)
	}
	if _, err := Open(""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty dsn, got %v", err)
	}
}

func TestRegisterOverridesScheme(t *testing.T) {
	hub := NewMemoryHub()
	Register("relaytest", func(dsn string) (Transport, error) {
		return hub, nil
	})
	tr, err := Open("relaytest://x")
	if err != nil {
		t.Fatalf("open registered scheme failed: %v", err)
	}
	if tr != Transport(hub) {
		t.Fatalf("expected registered factory result, got %T", tr)
	}
}
