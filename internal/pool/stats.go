package pool

import (
	"fmt"

	"github.com/vyrodovalexey/dbpool/internal/backend"
)

// Utilization thresholds for health evaluation.
const (
	warningUtilization  = 0.75
	criticalUtilization = 0.90
)

// Stats is a point-in-time snapshot of a pool. Validating connections count
// as idle.
type Stats struct {
	Active      int          `json:"active"`
	Idle        int          `json:"idle"`
	Healthy     int          `json:"healthy"`
	Total       int          `json:"total"`
	Waiting     int          `json:"waiting"`
	Max         int          `json:"max"`
	Min         int          `json:"min"`
	BackendKind backend.Kind `json:"backend"`
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	s := Stats{
		Total:       len(p.conns),
		Waiting:     p.waiters.len(),
		Max:         p.cfg.MaxConnections,
		Min:         p.cfg.MinConnections,
		BackendKind: p.adapter.Kind(),
	}
	for _, c := range p.conns {
		switch c.state {
		case StateLeased:
			s.Active++
		case StateIdle, StateValidating:
			s.Idle++
		}
		if c.healthy {
			s.Healthy++
		}
	}
	return s
}

// Status is a coarse health level.
type Status string

// Health levels, in increasing severity.
const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

func (s Status) severity() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	default:
		return 0
	}
}

// HealthStatus is the evaluated health of a pool.
type HealthStatus struct {
	Status Status   `json:"status"`
	Issues []string `json:"issues"`
}

func (h *HealthStatus) raise(level Status, issue string) {
	h.Issues = append(h.Issues, issue)
	if level.severity() > h.Status.severity() {
		h.Status = level
	}
}

// HealthStatus evaluates utilization, waiters, healthy connection count and
// the circuit breaker.
func (p *Pool) HealthStatus() HealthStatus {
	p.mu.Lock()
	s := p.statsLocked()
	closed := p.closed
	p.mu.Unlock()

	return evaluateHealth(s, closed, p.breaker.IsOpen())
}

func evaluateHealth(s Stats, closed, breakerOpen bool) HealthStatus {
	h := HealthStatus{Status: StatusHealthy, Issues: []string{}}
	if closed {
		h.raise(StatusCritical, "pool is closed")
		return h
	}

	if s.Max > 0 {
		utilization := float64(s.Active) / float64(s.Max)
		switch {
		case utilization > criticalUtilization:
			h.raise(StatusCritical, fmt.Sprintf("critical utilization: %.0f%%", utilization*100))
		case utilization > warningUtilization:
			h.raise(StatusWarning, fmt.Sprintf("high utilization: %.0f%%", utilization*100))
		}
	}
	if s.Waiting > 0 {
		h.raise(StatusWarning, fmt.Sprintf("%d callers waiting for a connection", s.Waiting))
	}
	if s.Healthy < s.Min {
		h.raise(StatusCritical, fmt.Sprintf("healthy connections below minimum: %d/%d", s.Healthy, s.Min))
	}
	if breakerOpen {
		h.raise(StatusWarning, "circuit breaker is open")
	}
	return h
}
