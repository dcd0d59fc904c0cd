package pool

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/dbpool/internal/backend"
	"github.com/vyrodovalexey/dbpool/internal/observability"
)

// Option is a functional option for configuring a Pool.
type Option func(*Pool)

// WithLogger sets the logger for the pool.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithName sets the pool name used in logs and metric labels. The default
// is the redacted endpoint.
func WithName(name string) Option {
	return func(p *Pool) {
		p.name = name
	}
}

// WithAdapter bypasses scheme dispatch and uses adapter directly.
func WithAdapter(adapter backend.Adapter) Option {
	return func(p *Pool) {
		p.adapter = adapter
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pool) {
		p.metrics = metrics
	}
}

// WithTracer sets the tracer used for query spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pool) {
		p.tracer = tracer
	}
}

// WithClock sets the time source used for idle and breaker bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}
