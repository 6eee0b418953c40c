package toolhost

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records registry activity on OpenTelemetry instruments: connect
// attempts and outcomes, tool invocations, failures, and call durations. A nil
// *Metrics is valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	connects        metric.Int64Counter
	connectFailures metric.Int64Counter
	connectDuration metric.Float64Histogram
	calls           metric.Int64Counter
	callFailures    metric.Int64Counter
	callDuration    metric.Float64Histogram
}

// NewMetrics creates the toolhost instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	connects, err := meter.Int64Counter("toolhost.server.connects",
		metric.WithDescription("Number of tool server connect attempts"),
	)
	if err != nil {
		return nil, err
	}

	connectFailures, err := meter.Int64Counter("toolhost.server.connect_failures",
		metric.WithDescription("Number of failed tool server connects"),
	)
	if err != nil {
		return nil, err
	}

	connectDuration, err := meter.Float64Histogram("toolhost.server.connect_duration",
		metric.WithDescription("Duration of tool server connects in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter("toolhost.tool.calls",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	callFailures, err := meter.Int64Counter("toolhost.tool.call_failures",
		metric.WithDescription("Number of failed tool invocations"),
	)
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram("toolhost.tool.call_duration",
		metric.WithDescription("Duration of tool invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		connects:        connects,
		connectFailures: connectFailures,
		connectDuration: connectDuration,
		calls:           calls,
		callFailures:    callFailures,
		callDuration:    callDuration,
	}, nil
}

func (m *Metrics) recordConnect(ctx context.Context, server string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("server", server))
	m.connects.Add(ctx, 1, attrs)
	m.connectDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.connectFailures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordCall(ctx context.Context, server, tool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("tool", tool),
	)
	m.calls.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.callDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if err != nil {
		m.callFailures.Add(ctx, 1, attrs)
	}
}
