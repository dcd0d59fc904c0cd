package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// Kind identifies a backend family.
type Kind string

// Supported backend kinds.
const (
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
	KindMongoDB  Kind = "mongodb"
)

// Session is an open backend session owned by exactly one pool connection.
type Session any

// OpenOptions carries per-pool settings for opening a session.
type OpenOptions struct {
	ConnectTimeout time.Duration
}

// Adapter translates pool operations into one backend's protocol calls.
type Adapter interface {
	// Kind returns the backend family served by the adapter.
	Kind() Kind

	// Open establishes a new session. Failures are *util.ConnectError.
	Open(ctx context.Context, endpoint string, opts OpenOptions) (Session, error)

	// Validate reports whether the session is still usable. It never fails.
	Validate(ctx context.Context, s Session) bool

	// Execute runs query against the session. Failures are *util.QueryError.
	Execute(ctx context.Context, s Session, query any, params ...any) (any, error)

	// Close releases the session. Failures are logged and swallowed.
	Close(ctx context.Context, s Session)
}

// Factory creates an adapter.
type Factory func(logger observability.Logger) Adapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"redis":       func(l observability.Logger) Adapter { return NewRedisAdapter(l) },
		"rediss":      func(l observability.Logger) Adapter { return NewRedisAdapter(l) },
		"postgres":    func(l observability.Logger) Adapter { return NewPostgresAdapter(l) },
		"postgresql":  func(l observability.Logger) Adapter { return NewPostgresAdapter(l) },
		"mysql":       func(l observability.Logger) Adapter { return NewMySQLAdapter(l) },
		"mongodb":     func(l observability.Logger) Adapter { return NewMongoAdapter(l) },
		"mongodb+srv": func(l observability.Logger) Adapter { return NewMongoAdapter(l) },
	}
)

// RegisterScheme makes factory available for endpoints using scheme,
// replacing any previous registration.
func RegisterScheme(scheme string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = factory
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	schemes := make([]string, 0, len(registry))
	for s := range registry {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// ForEndpoint returns the adapter for the scheme of endpoint. An unknown
// scheme is a *util.ConfigError wrapping util.ErrUnknownBackend.
func ForEndpoint(endpoint string, logger observability.Logger) (Adapter, error) {
	scheme, err := util.EndpointScheme(endpoint)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("url", "invalid endpoint", err)
	}

	registryMu.RLock()
	factory, ok := registry[scheme]
	registryMu.RUnlock()
	if !ok {
		return nil, util.NewConfigErrorWithCause("url",
			fmt.Sprintf("unsupported scheme %q", scheme), util.ErrUnknownBackend)
	}

	if logger == nil {
		logger = observability.NopLogger()
	}
	return factory(logger), nil
}

// closeTimeout bounds best-effort session shutdown.
const closeTimeout = 5 * time.Second

// withOpenTimeout derives the context used while opening a session.
func withOpenTimeout(ctx context.Context, opts OpenOptions) (context.Context, context.CancelFunc) {
	if opts.ConnectTimeout > 0 {
		return context.WithTimeout(ctx, opts.ConnectTimeout)
	}
	return context.WithCancel(ctx)
}
