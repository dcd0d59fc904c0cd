package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for dbpool spans.
const TracerName = "github.com/vyrodovalexey/dbpool"

// Tracer returns the dbpool tracer from the global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
