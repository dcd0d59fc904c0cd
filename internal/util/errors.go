package util

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	ErrAcquireTimeout = errors.New("connection acquire timeout")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrPoolClosed     = errors.New("pool is closed")
	ErrQueryFailed    = errors.New("query failed")
	ErrUnknownBackend = errors.New("unknown backend kind")
	ErrUnknownMethod  = errors.New("unknown method")
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrConnectFailed  = errors.New("connect failed")
)

// ConfigError represents a configuration-related error. It is fatal and
// never retried.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Field != "" {
		msg = fmt.Sprintf("config error at %s", e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", msg, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ConnectError is returned when a backend session could not be opened.
// Endpoint is always redacted.
type ConnectError struct {
	Backend  string
	Endpoint string
	Cause    error
}

// Error implements the error interface.
func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: connect to %s: %v", e.Backend, e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("%s: connect to %s failed", e.Backend, e.Endpoint)
}

// Unwrap returns the underlying error.
func (e *ConnectError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConnectError) Is(target error) bool {
	if target == ErrConnectFailed {
		return true
	}
	_, ok := target.(*ConnectError)
	return ok
}

// NewConnectError creates a new ConnectError, redacting the endpoint.
func NewConnectError(backend, endpoint string, cause error) *ConnectError {
	return &ConnectError{Backend: backend, Endpoint: RedactEndpoint(endpoint), Cause: cause}
}

// QueryError is returned when a backend rejects or fails a query.
// SessionLost reports that the underlying session is no longer usable,
// so the connection that ran the query must not be reused.
type QueryError struct {
	Backend     string
	SessionLost bool
	Cause       error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query error: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *QueryError) Is(target error) bool {
	_, ok := target.(*QueryError)
	return ok
}

// NewQueryError creates a new QueryError.
func NewQueryError(backend string, cause error) *QueryError {
	return &QueryError{Backend: backend, Cause: cause}
}

// NewSessionLostError creates a QueryError for a session that is broken.
func NewSessionLostError(backend string, cause error) *QueryError {
	return &QueryError{Backend: backend, SessionLost: true, Cause: cause}
}

// QueryFailedError is returned once every retry attempt of a query failed.
// It wraps the error of the last attempt.
type QueryFailedError struct {
	Pool     string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("pool %s: query failed after %d attempt(s): %v", e.Pool, e.Attempts, e.Cause)
}

// Unwrap returns the underlying error.
func (e *QueryFailedError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *QueryFailedError) Is(target error) bool {
	if target == ErrQueryFailed {
		return true
	}
	_, ok := target.(*QueryFailedError)
	return ok
}

// NewQueryFailedError creates a new QueryFailedError.
func NewQueryFailedError(pool string, attempts int, cause error) *QueryFailedError {
	return &QueryFailedError{Pool: pool, Attempts: attempts, Cause: cause}
}

// IsSessionLost reports whether err marks its session as unusable.
func IsSessionLost(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.SessionLost
}

// IsRetryable returns true if a query attempt that failed with err may be
// retried. Configuration errors, a closed pool and caller cancellation are
// final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrConfigInvalid),
		errors.Is(err, ErrPoolClosed),
		IsContextError(err):
		return false
	}

	return true
}

// CountsAsBackendFailure returns true if err should be recorded by a
// circuit breaker. Caller-side conditions are not backend failures.
func CountsAsBackendFailure(err error) bool {
	return IsRetryable(err)
}
