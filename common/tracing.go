package common

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans emitted by this module.
const InstrumentationName = "github.com/guarzo/authsession"

// DefaultTracer returns a tracer from the global provider.
func DefaultTracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
