package provider

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zmcp/odata-provider/internal/provider"

// telemetry wraps each provider operation in a span and counts it. Without
// configured providers the global no-op implementations are used.
type telemetry struct {
	tracer     trace.Tracer
	operations metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)
	counter, err := meter.Int64Counter(
		"odata_provider.operations",
		metric.WithDescription("Data provider operations by name, resource and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return &telemetry{
		tracer:     tp.Tracer(instrumentationName),
		operations: counter,
	}
}

// start opens the span odata.<op>. The returned func ends it and records
// the outcome; pass it the operation's final error.
func (t *telemetry) start(ctx context.Context, op, resource string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("odata.operation", op),
		attribute.String("odata.resource", resource),
	}
	ctx, span := t.tracer.Start(ctx, "odata."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if t.operations != nil {
			t.operations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome))...))
		}
		span.End()
	}
}
