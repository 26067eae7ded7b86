// SPDX-License-Identifier: MIT

// Package observe exports pipeline telemetry through OpenTelemetry: a
// latency histogram and outcome counter fed by doa.Reporter, observable
// gauges over pipeline stats, and one span per execution.
//
// Tests should build Metrics with NewMetrics and a ManualReader provider
// rather than touching the global provider.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"doa/internal/doa"
)

// meterName is the instrumentation scope for every doa instrument.
const meterName = "doa"

// latencyBuckets are histogram boundaries in seconds. Executions on the
// device DSP land in the low buckets, CPU fallbacks in the upper ones.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// Metrics holds the pipeline instruments. Safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// ExecutionDuration tracks Execute plus save latency. Attribute: status.
	ExecutionDuration metric.Float64Histogram

	// Executions counts attempts by status.
	Executions metric.Int64Counter

	// gauges observed from doa.Stats
	gateOpen        metric.Int64ObservableGauge
	gateTransitions metric.Int64ObservableCounter
	txWindows       metric.Int64ObservableCounter
}

var _ doa.Reporter = (*Metrics)(nil)

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := &Metrics{meter: mp.Meter(meterName)}
	var err error

	if m.ExecutionDuration, err = m.meter.Float64Histogram("doa.execution.duration",
		metric.WithDescription("Latency of one inference execution including persistence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.Executions, err = m.meter.Int64Counter("doa.executions",
		metric.WithDescription("Inference executions by status."),
	); err != nil {
		return nil, err
	}
	if m.gateOpen, err = m.meter.Int64ObservableGauge("doa.gate.open",
		metric.WithDescription("1 while the inference gate is open."),
	); err != nil {
		return nil, err
	}
	if m.gateTransitions, err = m.meter.Int64ObservableCounter("doa.gate.transitions",
		metric.WithDescription("Gate open/close transitions."),
	); err != nil {
		return nil, err
	}
	if m.txWindows, err = m.meter.Int64ObservableCounter("doa.tx.windows",
		metric.WithDescription("Ring windows transformed by the tx stage."),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Report records one execution.
func (m *Metrics) Report(e doa.Execution) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", e.Status.String()))
	m.ExecutionDuration.Record(ctx, e.Latency.Seconds(), attrs)
	m.Executions.Add(ctx, 1, attrs)
}

// ObservePipeline reports stats on every collection until the returned
// registration is unregistered.
func (m *Metrics) ObservePipeline(stats func() doa.Stats) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		var open int64
		if s.GateOpen {
			open = 1
		}
		o.ObserveInt64(m.gateOpen, open)
		o.ObserveInt64(m.gateTransitions, int64(s.GateTransitions))
		o.ObserveInt64(m.txWindows, int64(s.TxWindows))
		return nil
	}, m.gateOpen, m.gateTransitions, m.txWindows)
}
