// Package util provides shared types and helpers for dbpool.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrAcquireTimeout.
//   - Structured error types for context-rich errors that carry
//     additional fields (ConfigError, ConnectError, QueryError,
//     QueryFailedError). Each type implements Error(), Unwrap() and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// # Endpoints
//
// Endpoint URLs carry credentials. RedactEndpoint must be applied
// before an endpoint reaches a log line or an error string:
//
//	logger.Info("pool created", observability.String("endpoint", util.RedactEndpoint(raw)))
package util
