package persist

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Factory builds a Client from a full dsn. Installed with Register.
type Factory func(dsn string) (Client, error)

var clientFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]Factory
}{
	factories: map[string]Factory{},
}

// Register installs a persistence factory for a dsn scheme, taking
// precedence over the built-in handling of that scheme. Empty schemes and
// nil factories are ignored.
func Register(scheme string, factory Factory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	clientFactoryRegistry.mu.Lock()
	defer clientFactoryRegistry.mu.Unlock()
	clientFactoryRegistry.factories[scheme] = factory
}

func lookupFactory(scheme string) (Factory, bool) {
	scheme = normalizeScheme(scheme)
	clientFactoryRegistry.mu.RLock()
	defer clientFactoryRegistry.mu.RUnlock()
	factory, ok := clientFactoryRegistry.factories[scheme]
	return factory, ok
}

// Open builds the persistence client selected by dsn: http(s):// for the
// board service REST API, postgres:// for direct database access, or
// memory:// for an in-process client.
func Open(dsn string) (Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty persistence dsn", ErrInvalidInput)
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
	case "http", "https":
		return NewHTTPClient(HTTPOptions{BaseURL: dsn})
	case "postgres", "postgresql":
		return NewPostgresClient(dsn)
	case "memory", "mem", "inmem":
		return NewMemoryClient(), nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: persistence backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported persistence scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
