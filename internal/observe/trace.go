// SPDX-License-Identifier: MIT
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"doa/internal/doa"
)

const tracerName = "doa"

// Tracing turns each reported execution into a span with its real start and
// end times.
type Tracing struct {
	tracer trace.Tracer
}

var _ doa.Reporter = (*Tracing)(nil)

// NewTracing uses tp, or the global provider when tp is nil.
func NewTracing(tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracing{tracer: tp.Tracer(tracerName)}
}

func (t *Tracing) Report(e doa.Execution) {
	_, span := t.tracer.Start(context.Background(), "doa.execute",
		trace.WithTimestamp(e.Started),
		trace.WithAttributes(
			attribute.String("doa.run_id", e.RunID),
			attribute.Int64("doa.index", int64(e.Index)),
			attribute.Int("doa.result", e.Result),
			attribute.String("doa.status", e.Status.String()),
		),
	)
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Status.String())
	}
	span.End(trace.WithTimestamp(e.Started.Add(e.Latency)))
}
