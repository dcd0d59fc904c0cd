// Package backend provides the per-backend adapters a pool uses to open,
// validate, query and close sessions.
//
// An adapter is selected once per pool from the scheme of the endpoint URL:
//
//	redis://, rediss://             key-value store (go-redis)
//	postgres://, postgresql://      relational (lib/pq)
//	mysql://                        relational (go-sql-driver/mysql)
//	mongodb://, mongodb+srv://      document store (mongo-driver)
//
// Every session is a single dedicated network connection. Adapters never
// pool internally; the pool in internal/pool owns reuse.
//
// Errors follow internal/util: Open fails with *util.ConnectError,
// Execute with *util.QueryError, and Close only logs.
package backend
