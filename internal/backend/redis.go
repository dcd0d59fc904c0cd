package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// Command is a key-value command: a method name plus arguments.
type Command struct {
	Method string
	Args   []any
}

// RedisAdapter serves redis:// and rediss:// endpoints.
type RedisAdapter struct {
	logger observability.Logger
}

// NewRedisAdapter creates a key-value adapter.
func NewRedisAdapter(logger observability.Logger) *RedisAdapter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisAdapter{logger: logger}
}

// Kind implements Adapter.
func (a *RedisAdapter) Kind() Kind {
	return KindRedis
}

// Open implements Adapter. The session is a *redis.Client limited to a
// single connection with client-side retries disabled.
func (a *RedisAdapter) Open(ctx context.Context, endpoint string, opts OpenOptions) (Session, error) {
	options, err := redis.ParseURL(endpoint)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("url", "invalid redis URL", err)
	}

	options.PoolSize = 1
	options.MinIdleConns = 0
	options.MaxRetries = -1
	if opts.ConnectTimeout > 0 {
		options.DialTimeout = opts.ConnectTimeout
	}

	client := redis.NewClient(options)

	openCtx, cancel := withOpenTimeout(ctx, opts)
	defer cancel()

	if err := client.Ping(openCtx).Err(); err != nil {
		_ = client.Close()
		return nil, util.NewConnectError(string(KindRedis), endpoint, err)
	}

	return client, nil
}

// Validate implements Adapter.
func (a *RedisAdapter) Validate(ctx context.Context, s Session) bool {
	client, ok := s.(*redis.Client)
	if !ok {
		return false
	}
	return client.Ping(ctx).Err() == nil
}

// Execute implements Adapter. query is a Command, a []any whose first
// element is the method, or a bare method name with params as arguments.
// A missing key yields a nil result.
func (a *RedisAdapter) Execute(ctx context.Context, s Session, query any, params ...any) (any, error) {
	client, ok := s.(*redis.Client)
	if !ok {
		return nil, util.NewQueryError(string(KindRedis), fmt.Errorf("unexpected session type %T", s))
	}

	method, args, err := redisCommandArgs(query, params)
	if err != nil {
		return nil, util.NewQueryError(string(KindRedis), err)
	}

	result, err := client.Do(ctx, append([]any{method}, args...)...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, a.classify(method, err)
	}

	return result, nil
}

// Close implements Adapter.
func (a *RedisAdapter) Close(_ context.Context, s Session) {
	client, ok := s.(*redis.Client)
	if !ok {
		return
	}
	if err := client.Close(); err != nil {
		a.logger.Warn("failed to close redis session",
			observability.Error(err),
		)
	}
}

// classify maps a go-redis error to a QueryError. Server replies keep the
// session usable; transport failures do not.
func (a *RedisAdapter) classify(method string, err error) error {
	var replyErr redis.Error
	switch {
	case util.IsContextError(err):
		return util.NewQueryError(string(KindRedis), err)
	case errors.As(err, &replyErr):
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			return util.NewQueryError(string(KindRedis),
				fmt.Errorf("%w %q: %v", util.ErrUnknownMethod, method, err))
		}
		return util.NewQueryError(string(KindRedis), err)
	default:
		return util.NewSessionLostError(string(KindRedis), err)
	}
}

// redisCommandArgs normalizes the accepted query forms.
func redisCommandArgs(query any, params []any) (string, []any, error) {
	var (
		method string
		args   []any
	)

	switch q := query.(type) {
	case Command:
		method, args = q.Method, q.Args
	case *Command:
		if q == nil {
			return "", nil, fmt.Errorf("%w: nil command", util.ErrUnknownMethod)
		}
		method, args = q.Method, q.Args
	case string:
		method = q
	case []string:
		if len(q) == 0 {
			return "", nil, fmt.Errorf("%w: empty command", util.ErrUnknownMethod)
		}
		method = q[0]
		for _, a := range q[1:] {
			args = append(args, a)
		}
	case []any:
		if len(q) == 0 {
			return "", nil, fmt.Errorf("%w: empty command", util.ErrUnknownMethod)
		}
		name, ok := q[0].(string)
		if !ok {
			return "", nil, fmt.Errorf("%w: method must be a string, got %T", util.ErrUnknownMethod, q[0])
		}
		method, args = name, q[1:]
	default:
		return "", nil, fmt.Errorf("unsupported redis query type %T", query)
	}

	method = strings.TrimSpace(method)
	if method == "" {
		return "", nil, fmt.Errorf("%w: empty method name", util.ErrUnknownMethod)
	}

	all := make([]any, 0, len(args)+len(params))
	all = append(all, args...)
	all = append(all, params...)
	return method, all, nil
}
