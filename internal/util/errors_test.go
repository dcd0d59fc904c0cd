package util

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := NewConfigError("url", "unsupported scheme")
		assert.Equal(t, "config error at url: unsupported scheme", err.Error())
		assert.True(t, errors.Is(err, ErrConfigInvalid))
		assert.Nil(t, err.Unwrap())
	})

	t.Run("with cause", func(t *testing.T) {
		err := NewConfigErrorWithCause("url", "unsupported scheme \"ftp\"", ErrUnknownBackend)
		assert.Contains(t, err.Error(), "unknown backend kind")
		assert.True(t, errors.Is(err, ErrUnknownBackend))
		assert.True(t, errors.Is(err, ErrConfigInvalid))
	})

	t.Run("without field", func(t *testing.T) {
		err := &ConfigError{Message: "bad"}
		assert.Equal(t, "config error: bad", err.Error())
	})
}

func TestConnectError_RedactsEndpoint(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewConnectError("postgres", "postgres://admin:secret@db:5432/app", cause)

	assert.NotContains(t, err.Error(), "secret")
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, errors.Is(err, ErrConnectFailed))
	assert.True(t, errors.Is(err, cause))

	var ce *ConnectError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &ce))
	assert.Equal(t, "postgres", ce.Backend)
}

func TestQueryError(t *testing.T) {
	cause := errors.New("syntax error")

	err := NewQueryError("mysql", cause)
	assert.False(t, IsSessionLost(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "mysql query error: syntax error", err.Error())

	lost := NewSessionLostError("redis", cause)
	assert.True(t, IsSessionLost(lost))
	assert.True(t, IsSessionLost(fmt.Errorf("attempt 1: %w", lost)))
	assert.False(t, IsSessionLost(cause))
}

func TestQueryFailedError(t *testing.T) {
	last := NewQueryError("redis", errors.New("boom"))
	err := NewQueryFailedError("cache", 3, last)

	assert.True(t, errors.Is(err, ErrQueryFailed))
	assert.Equal(t, 3, err.Attempts)
	assert.Contains(t, err.Error(), "after 3 attempt(s)")

	var qe *QueryError
	assert.True(t, errors.As(err, &qe))
	assert.Same(t, last, qe)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "query error", err: NewQueryError("redis", errors.New("x")), want: true},
		{name: "acquire timeout", err: ErrAcquireTimeout, want: true},
		{name: "connect error", err: NewConnectError("redis", "redis://h", errors.New("x")), want: true},
		{name: "config error", err: NewConfigError("url", "bad"), want: false},
		{name: "pool closed", err: fmt.Errorf("acquire: %w", ErrPoolClosed), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("x: %w", context.DeadlineExceeded), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
			assert.Equal(t, tt.want, CountsAsBackendFailure(tt.err))
		})
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
}
