package transport

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Factory builds a Transport from a full dsn. Installed with Register.
type Factory func(dsn string) (Transport, error)

var transportFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register installs a transport factory for a dsn scheme, taking precedence
// over the built-in handling of that scheme. Empty schemes and nil
// factories are ignored.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	transportFactoryRegistry.mu.Lock()
	defer transportFactoryRegistry.mu.Unlock()
	transportFactoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	transportFactoryRegistry.mu.RLock()
	defer transportFactoryRegistry.mu.RUnlock()
	factory, ok := transportFactoryRegistry.factories[scheme]
	return factory, ok
}

// Open builds the transport selected by dsn: ws(s):// for a websocket
// relay, redis(s):// for redis pub/sub, or memory:// for an in-process hub.
func Open(dsn string) (Transport, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty transport dsn", ErrInvalidInput)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "ws", "wss":
		return NewWebsocketTransport(WebsocketOptions{URL: dsn})
	case "redis", "rediss":
		return NewRedisTransport(RedisOptions{DSN: dsn})
	case "memory", "mem", "inmem":
		return NewMemoryHub(), nil
	case "nats", "mqtt":
		return nil, fmt.Errorf("%w: transport backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported transport scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
