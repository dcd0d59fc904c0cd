package pool

import (
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/dbpool/internal/backend"
)

// State is the lifecycle state of a pooled connection.
type State int

// Connection states. Creating connections are not yet part of the pool.
const (
	StateCreating State = iota
	StateIdle
	StateLeased
	StateValidating
	StateEvicted
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateIdle:
		return "idle"
	case StateLeased:
		return "leased"
	case StateValidating:
		return "validating"
	case StateEvicted:
		return "evicted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is a handle to one backend session owned by a Pool. While
// leased it belongs exclusively to the caller that acquired it.
//
// Mutable fields are guarded by the owning pool's mutex.
type Connection struct {
	id        string
	pool      *Pool
	session   backend.Session
	createdAt time.Time

	state      State
	healthy    bool
	lastUsedAt time.Time
	queryCount int64
}

func newConnection(p *Pool, session backend.Session, now time.Time) *Connection {
	return &Connection{
		id:         uuid.NewString(),
		pool:       p,
		session:    session,
		createdAt:  now,
		state:      StateCreating,
		healthy:    true,
		lastUsedAt: now,
	}
}

// ID returns the unique connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Session returns the backend session. It must only be used while the
// connection is leased.
func (c *Connection) Session() backend.Session {
	return c.session
}

// CreatedAt returns the time the session was opened.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.state
}

// Healthy reports whether the connection may be reused after release.
func (c *Connection) Healthy() bool {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.healthy
}

// LastUsedAt returns the time of the last release.
func (c *Connection) LastUsedAt() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lastUsedAt
}

// QueryCount returns how many queries ran on this connection.
func (c *Connection) QueryCount() int64 {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.queryCount
}

// MarkUnhealthy flags a leased connection so it is discarded on release.
func (c *Connection) MarkUnhealthy() {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.healthy = false
}

// live reports whether the connection still counts towards the pool size.
func (c *Connection) live() bool {
	switch c.state {
	case StateIdle, StateLeased, StateValidating:
		return true
	default:
		return false
	}
}
