package pool

import (
	"context"
	"time"

	"github.com/vyrodovalexey/dbpool/internal/observability"
)

// SweepResult summarizes one health sweep.
type SweepResult struct {
	Evicted   int `json:"evicted"`
	Validated int `json:"validated"`
	Failed    int `json:"failed"`
	Created   int `json:"created"`
}

// RunHealthCheck sweeps idle connections once. Connections idle for longer
// than IdleTimeout are evicted without validation; the rest are validated
// outside the lock and evicted if the check fails. The pool is then topped
// up towards MinConnections healthy connections.
func (p *Pool) RunHealthCheck(ctx context.Context) SweepResult {
	start := time.Now()
	var res SweepResult

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return res
	}

	now := p.now()
	idleTimeout := p.cfg.IdleTimeout.Duration()
	var evicted, validating []*Connection
	for _, c := range append([]*Connection(nil), p.conns...) {
		if c.state != StateIdle {
			continue
		}
		switch {
		case now.Sub(c.lastUsedAt) > idleTimeout:
			p.evictLocked(c, evictIdleTimeout)
			evicted = append(evicted, c)
		case !c.healthy:
			p.evictLocked(c, evictUnhealthy)
			evicted = append(evicted, c)
		default:
			c.state = StateValidating
			validating = append(validating, c)
		}
	}
	if len(evicted) > 0 {
		p.serviceWaitersLocked()
	}
	p.publishLocked()
	p.mu.Unlock()

	for _, c := range evicted {
		p.closeConnection(c)
	}
	res.Evicted = len(evicted)

	for _, c := range validating {
		if p.validate(ctx, c) {
			res.Validated++
		} else {
			res.Failed++
		}
	}

	res.Created = p.topUp(ctx)

	elapsed := time.Since(start)
	p.metrics.RecordHealthCheck(p.name, string(p.adapter.Kind()), elapsed)
	p.logger.Debug("health sweep completed",
		observability.Int("evicted", res.Evicted),
		observability.Int("validated", res.Validated),
		observability.Int("failed", res.Failed),
		observability.Int("created", res.Created),
		observability.Duration("duration", elapsed),
	)
	return res
}

// validate checks one connection that the sweep moved to StateValidating.
// It reports whether the connection passed and went back into service.
func (p *Pool) validate(ctx context.Context, c *Connection) bool {
	vctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout.Duration())
	ok := p.adapter.Validate(vctx, c.session)
	cancel()

	p.mu.Lock()
	// Shutdown detaches validating connections and leaves closing to us.
	detached := c.state != StateValidating
	switch {
	case detached:
	case ok:
		p.handOffLocked(c)
	default:
		c.healthy = false
		p.evictLocked(c, evictValidationFailed)
		p.serviceWaitersLocked()
	}
	if !detached {
		p.publishLocked()
	}
	p.mu.Unlock()

	if detached || !ok {
		p.closeConnection(c)
		return false
	}
	return true
}

// topUp opens connections until MinConnections are healthy. The first
// failure ends the attempt until the next sweep.
func (p *Pool) topUp(ctx context.Context) int {
	created := 0
	for {
		p.mu.Lock()
		need := !p.closed && p.healthyCountLocked()+p.creating < p.cfg.MinConnections
		p.mu.Unlock()
		if !need {
			return created
		}
		if err := p.addIdleConnection(ctx); err != nil {
			p.logger.Debug("top-up stopped", observability.Error(err))
			return created
		}
		created++
	}
}

func (p *Pool) healthyCountLocked() int {
	n := 0
	for _, c := range p.conns {
		if c.healthy {
			n++
		}
	}
	return n
}

// startHealthLoop runs RunHealthCheck every HealthCheckInterval until
// Shutdown.
func (p *Pool) startHealthLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.healthStop != nil {
		return
	}
	p.healthStop = make(chan struct{})
	p.healthDone = make(chan struct{})
	go p.healthLoop(p.healthStop, p.healthDone)
}

func (p *Pool) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.RunHealthCheck(ctx)
		}
	}
}
