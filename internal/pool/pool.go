// Package pool implements a bounded connection pool over a single backend
// endpoint with FIFO waiters, health sweeps, retry and a circuit breaker.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/dbpool/internal/backend"
	"github.com/vyrodovalexey/dbpool/internal/circuitbreaker"
	"github.com/vyrodovalexey/dbpool/internal/config"
	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/retry"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// errPoolFull is returned internally when no creation slot is free.
var errPoolFull = errors.New("pool is at max connections")

// maxRetryDelay leaves query backoff uncapped.
const maxRetryDelay = time.Duration(math.MaxInt64)

// Pool manages connections to one backend endpoint.
type Pool struct {
	name     string
	endpoint string
	cfg      config.PoolConfig
	adapter  backend.Adapter
	breaker  *circuitbreaker.CircuitBreaker
	logger   observability.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu                sync.Mutex
	conns             []*Connection
	creating          int
	pendingForWaiters int
	waiters           *waitQueue
	initialized       bool
	closed            bool
	healthStop        chan struct{}
	healthDone        chan struct{}

	// wg tracks background creations started on behalf of waiters.
	wg sync.WaitGroup
}

// New creates a pool for endpoint. The configuration is normalized and
// validated; the backend adapter is chosen from the endpoint scheme unless
// WithAdapter is given. No connections are opened until Initialize.
func New(endpoint string, cfg config.PoolConfig, opts ...Option) (*Pool, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		endpoint: endpoint,
		cfg:      cfg,
		waiters:  newWaitQueue(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = observability.NopLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.metrics == nil {
		p.metrics = GetMetrics()
	}
	if p.tracer == nil {
		p.tracer = observability.Tracer()
	}
	if p.name == "" {
		p.name = util.RedactEndpoint(endpoint)
	}
	if p.adapter == nil {
		adapter, err := backend.ForEndpoint(endpoint, p.logger)
		if err != nil {
			return nil, err
		}
		p.adapter = adapter
	}

	p.logger = p.logger.With(
		observability.String("pool", p.name),
		observability.String("backend", string(p.adapter.Kind())),
	)

	breakerCfg := circuitbreaker.DefaultConfig().
		WithFailureThreshold(cfg.CircuitBreakerThreshold).
		WithTimeout(cfg.CircuitBreakerTimeout.Duration())
	p.breaker = circuitbreaker.NewCircuitBreaker(p.name, breakerCfg,
		circuitbreaker.WithLogger(p.logger),
		circuitbreaker.WithClock(p.now),
	)

	return p, nil
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Endpoint returns the endpoint with credentials redacted.
func (p *Pool) Endpoint() string {
	return util.RedactEndpoint(p.endpoint)
}

// Kind returns the backend family.
func (p *Pool) Kind() backend.Kind {
	return p.adapter.Kind()
}

// Config returns the normalized pool configuration.
func (p *Pool) Config() config.PoolConfig {
	return p.cfg
}

// Breaker returns the pool's circuit breaker.
func (p *Pool) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// IsClosed reports whether Shutdown has been called.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Initialize opens MinConnections idle connections and starts the periodic
// health sweep. Failing to open the first connection is an error; later
// failures only stop the fill. Calling Initialize again is a no-op.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return util.ErrPoolClosed
	}
	if p.initialized {
		p.mu.Unlock()
		return nil
	}
	p.initialized = true
	p.mu.Unlock()

	created := 0
	for created < p.cfg.MinConnections {
		err := p.addIdleConnection(ctx)
		if err == nil {
			created++
			continue
		}
		if created == 0 {
			p.mu.Lock()
			p.initialized = false
			p.mu.Unlock()
			return err
		}
		p.logger.Warn("stopped filling pool to minimum",
			observability.Int("created", created),
			observability.Int("min_connections", p.cfg.MinConnections),
			observability.Error(err),
		)
		break
	}

	p.startHealthLoop()

	p.logger.Info("pool initialized",
		observability.Int("connections", created),
		observability.Int("max_connections", p.cfg.MaxConnections),
	)
	return nil
}

// Acquire leases a connection. It prefers the most recently used idle
// connection, then opens a new one if below MaxConnections, and otherwise
// waits in FIFO order for up to AcquireTimeout.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	start := time.Now()
	kind := string(p.adapter.Kind())

	if err := ctx.Err(); err != nil {
		p.metrics.RecordAcquire(p.name, kind, acquireCancelled, time.Since(start))
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.RecordAcquire(p.name, kind, acquireClosed, time.Since(start))
		return nil, util.ErrPoolClosed
	}

	// Queued callers keep priority over newcomers.
	if p.waiters.len() == 0 {
		if c := p.mostRecentIdleLocked(); c != nil {
			c.state = StateLeased
			p.publishLocked()
			p.mu.Unlock()
			p.metrics.RecordAcquire(p.name, kind, acquireIdle, time.Since(start))
			return c, nil
		}
		if len(p.conns)+p.creating < p.cfg.MaxConnections {
			p.creating++
			p.mu.Unlock()
			c, err := p.createLeased(ctx)
			result := acquireCreated
			if err != nil {
				result = acquireError
			}
			p.metrics.RecordAcquire(p.name, kind, result, time.Since(start))
			return c, err
		}
	}

	w := p.waiters.push(p.now())
	p.publishLocked()
	p.mu.Unlock()

	return p.wait(ctx, w, start)
}

// wait blocks until w is granted, the acquire timeout fires or ctx is done.
func (p *Pool) wait(ctx context.Context, w *waiter, start time.Time) (*Connection, error) {
	kind := string(p.adapter.Kind())
	timeout := p.cfg.AcquireTimeout.Duration()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		cause  error
		result string
	)
	select {
	case g := <-w.ch:
		switch {
		case g.err == nil:
			result = acquireWaited
		case errors.Is(g.err, util.ErrPoolClosed):
			result = acquireClosed
		default:
			result = acquireError
		}
		p.metrics.RecordAcquire(p.name, kind, result, time.Since(start))
		return g.conn, g.err
	case <-timer.C:
		cause = fmt.Errorf("pool %s: %w after %s", p.name, util.ErrAcquireTimeout, timeout)
		result = acquireTimeout
	case <-ctx.Done():
		cause = ctx.Err()
		result = acquireCancelled
	}

	p.mu.Lock()
	removed := p.waiters.remove(w)
	if removed {
		p.publishLocked()
	}
	p.mu.Unlock()

	if !removed {
		// A grant raced the timeout; it is already in the buffered channel.
		if g := <-w.ch; g.conn != nil {
			p.Release(g.conn)
		}
	}

	p.metrics.RecordAcquire(p.name, kind, result, time.Since(start))
	p.logger.Debug("acquire gave up",
		observability.String("result", result),
		observability.Duration("waited", time.Since(start)),
	)
	return nil, cause
}

// Release returns a leased connection to the pool. Unhealthy connections are
// closed and replaced on demand. Releasing a connection that is not leased
// from this pool is ignored.
func (p *Pool) Release(c *Connection) {
	if c == nil {
		return
	}

	p.mu.Lock()
	if c.pool != p || c.state != StateLeased {
		closed := p.closed
		p.mu.Unlock()
		switch {
		case c.pool != p:
			p.logger.Warn("release of connection owned by another pool",
				observability.String("connection_id", c.id))
		case closed:
			p.logger.Debug("release after shutdown",
				observability.String("connection_id", c.id))
		default:
			p.logger.Warn("release of connection that is not leased",
				observability.String("connection_id", c.id))
		}
		return
	}

	c.lastUsedAt = p.now()
	if !c.healthy {
		p.evictLocked(c, evictUnhealthy)
		p.serviceWaitersLocked()
		p.publishLocked()
		p.mu.Unlock()
		p.closeConnection(c)
		return
	}

	p.handOffLocked(c)
	p.publishLocked()
	p.mu.Unlock()
}

// ExecuteQuery runs query on a pooled connection, retrying retryable
// failures with exponential backoff and recording the outcome on the
// circuit breaker. An open circuit rejects the call without touching the
// backend.
func (p *Pool) ExecuteQuery(ctx context.Context, query any, params ...any) (any, error) {
	kind := string(p.adapter.Kind())
	ctx, span := p.tracer.Start(ctx, "dbpool.execute_query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", kind),
			attribute.String("dbpool.pool", p.name),
		),
	)
	defer span.End()

	if p.IsClosed() {
		span.SetStatus(codes.Error, util.ErrPoolClosed.Error())
		return nil, util.ErrPoolClosed
	}

	if !p.breaker.Allow() {
		p.metrics.RecordQuery(p.name, kind, queryRejected)
		span.SetStatus(codes.Error, util.ErrCircuitOpen.Error())
		return nil, fmt.Errorf("pool %s: %w", p.name, util.ErrCircuitOpen)
	}

	var result any
	attempts, err := retry.Do(ctx, p.retryConfig(), func(ctx context.Context, attempt int) error {
		if attempt > 1 && p.breaker.IsOpen() {
			return util.ErrCircuitOpen
		}
		res, err := p.attempt(ctx, query, params)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, &retry.Options{
		Operation: p.name,
		ShouldRetry: func(err error) bool {
			return util.IsRetryable(err) && !errors.Is(err, util.ErrCircuitOpen)
		},
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			p.logger.WithContext(ctx).Warn("query attempt failed, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	span.SetAttributes(attribute.Int("dbpool.attempts", attempts))

	if err == nil {
		p.metrics.RecordQuery(p.name, kind, querySuccess)
		return result, nil
	}

	p.metrics.RecordQuery(p.name, kind, queryFailure)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	p.logger.WithContext(ctx).Error("query failed",
		observability.Int("attempts", attempts),
		observability.Error(err),
	)
	return nil, util.NewQueryFailedError(p.name, attempts, err)
}

// retryConfig backs off RetryDelay*2^(attempt-1) plus jitter, without a cap.
func (p *Pool) retryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:  p.cfg.RetryAttempts,
		BaseDelay:    p.cfg.RetryDelay.Duration(),
		MaxDelay:     maxRetryDelay,
		JitterFactor: p.cfg.JitterFactor,
	}
}

// attempt runs one acquire-execute-release cycle.
func (p *Pool) attempt(ctx context.Context, query any, params []any) (any, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		p.recordFailure(err)
		return nil, err
	}
	defer p.Release(conn)

	start := time.Now()
	res, err := p.adapter.Execute(ctx, conn.session, query, params...)
	elapsed := time.Since(start)

	threshold := p.cfg.MaxQueryTime.Duration()
	slow := elapsed > threshold
	p.metrics.RecordQueryDuration(p.name, string(p.adapter.Kind()), elapsed, slow)
	if slow {
		p.logger.WithContext(ctx).Warn("slow query",
			observability.String("connection_id", conn.id),
			observability.Duration("duration", elapsed),
			observability.Duration("threshold", threshold),
		)
	}

	p.mu.Lock()
	conn.queryCount++
	if util.IsSessionLost(err) {
		conn.healthy = false
	}
	p.mu.Unlock()

	if err != nil {
		p.recordFailure(err)
		return nil, err
	}
	p.breaker.RecordSuccess()
	return res, nil
}

func (p *Pool) recordFailure(err error) {
	if util.CountsAsBackendFailure(err) {
		p.breaker.RecordFailure()
	}
}

// Shutdown closes the pool. Waiters fail with ErrPoolClosed, every
// connection is closed regardless of state and the health sweep stops.
// It waits for in-flight background work until ctx is done. Calling it
// again returns nil.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	waiters := p.waiters.drain()
	toClose := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		// A sweep that is validating c closes it once validation returns.
		if c.state != StateValidating {
			toClose = append(toClose, c)
		}
		c.state = StateEvicted
	}
	p.conns = nil
	stop, done := p.healthStop, p.healthDone
	p.healthStop = nil
	p.publishLocked()
	p.mu.Unlock()

	for _, w := range waiters {
		w.deliver(grant{err: util.ErrPoolClosed})
	}
	if stop != nil {
		close(stop)
	}
	for _, c := range toClose {
		p.closeConnection(c)
	}

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		if done != nil {
			<-done
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("pool %s: shutdown: %w", p.name, ctx.Err())
	}

	p.metrics.Forget(p.name)
	p.logger.Info("pool shut down",
		observability.Int("closed_connections", len(toClose)),
		observability.Int("failed_waiters", len(waiters)),
	)
	return nil
}

// addIdleConnection opens one connection and hands it to the head waiter
// or parks it idle.
func (p *Pool) addIdleConnection(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return util.ErrPoolClosed
	}
	if len(p.conns)+p.creating >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return errPoolFull
	}
	p.creating++
	p.mu.Unlock()

	session, err := p.open(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.serviceWaitersLocked()
		p.mu.Unlock()
		return err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeSession(session)
		return util.ErrPoolClosed
	}
	c := newConnection(p, session, p.now())
	p.conns = append(p.conns, c)
	p.handOffLocked(c)
	p.publishLocked()
	p.mu.Unlock()
	return nil
}

// createLeased opens a connection for the caller. The creation slot must
// already be reserved.
func (p *Pool) createLeased(ctx context.Context) (*Connection, error) {
	session, err := p.open(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.serviceWaitersLocked()
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeSession(session)
		return nil, util.ErrPoolClosed
	}
	c := newConnection(p, session, p.now())
	c.state = StateLeased
	p.conns = append(p.conns, c)
	p.publishLocked()
	p.mu.Unlock()
	return c, nil
}

// createForWaiter opens a connection in the background for the head waiter.
// The creation slot and waiter reservation must already be counted.
func (p *Pool) createForWaiter() {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout.Duration())
	defer cancel()
	session, err := p.open(ctx)

	p.mu.Lock()
	p.creating--
	p.pendingForWaiters--
	if err != nil {
		if w := p.waiters.pop(); w != nil {
			w.deliver(grant{err: err})
		}
		p.serviceWaitersLocked()
		p.publishLocked()
		p.mu.Unlock()
		return
	}
	if p.closed {
		p.mu.Unlock()
		p.closeSession(session)
		return
	}
	c := newConnection(p, session, p.now())
	p.conns = append(p.conns, c)
	p.handOffLocked(c)
	p.publishLocked()
	p.mu.Unlock()
}

// serviceWaitersLocked starts background creations for waiters that no
// pending creation already covers, as far as free slots allow.
func (p *Pool) serviceWaitersLocked() {
	for !p.closed &&
		p.waiters.len() > p.pendingForWaiters &&
		len(p.conns)+p.creating < p.cfg.MaxConnections {
		p.creating++
		p.pendingForWaiters++
		p.wg.Add(1)
		go p.createForWaiter()
	}
}

// handOffLocked gives a healthy connection to the head waiter, or parks it
// idle when nobody waits.
func (p *Pool) handOffLocked(c *Connection) {
	if w := p.waiters.pop(); w != nil {
		c.state = StateLeased
		w.deliver(grant{conn: c})
		return
	}
	c.state = StateIdle
}

// mostRecentIdleLocked returns the idle healthy connection released last.
func (p *Pool) mostRecentIdleLocked() *Connection {
	var best *Connection
	for _, c := range p.conns {
		if c.state != StateIdle || !c.healthy {
			continue
		}
		if best == nil || c.lastUsedAt.After(best.lastUsedAt) {
			best = c
		}
	}
	return best
}

// evictLocked removes c from the pool. Closing the session is left to the
// caller, outside the lock.
func (p *Pool) evictLocked(c *Connection, reason string) {
	for i, other := range p.conns {
		if other == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	c.state = StateEvicted
	p.metrics.RecordEviction(p.name, string(p.adapter.Kind()), reason)
	p.logger.Debug("connection evicted",
		observability.String("connection_id", c.id),
		observability.String("reason", reason),
	)
}

func (p *Pool) open(ctx context.Context) (backend.Session, error) {
	session, err := p.adapter.Open(ctx, p.endpoint, backend.OpenOptions{
		ConnectTimeout: p.cfg.ConnectTimeout.Duration(),
	})
	p.metrics.RecordOpen(p.name, string(p.adapter.Kind()), err)
	if err != nil {
		p.logger.Warn("failed to open connection", observability.Error(err))
		return nil, err
	}
	return session, nil
}

// closeConnection closes an evicted connection's session and marks it
// closed.
func (p *Pool) closeConnection(c *Connection) {
	p.closeSession(c.session)
	p.mu.Lock()
	c.state = StateClosed
	p.mu.Unlock()
}

func (p *Pool) closeSession(session backend.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout.Duration())
	defer cancel()
	p.adapter.Close(ctx, session)
}

func (p *Pool) publishLocked() {
	p.metrics.SetStats(p.name, p.statsLocked())
}
