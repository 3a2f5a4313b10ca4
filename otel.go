package mailstore

import (
	"context"
	"time"

	"github.com/rbaliyan/mailstore/cache"
	"github.com/rbaliyan/mailstore/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailstore"

// Operation names used as span names and the "operation" metric attribute.
const (
	opAppend   = "mailstore.append"
	opStore    = "mailstore.store"
	opExpunge  = "mailstore.expunge"
	opMessages = "mailstore.messages"
	opStatus   = "mailstore.status"
	opCreate   = "mailstore.create"
	opDelete   = "mailstore.delete"
	opRename   = "mailstore.rename"
	opList     = "mailstore.list"
)

// statsSource is implemented by caches that count hits and misses.
type statsSource interface {
	Stats() cache.Stats
}

type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer
	serviceName    string

	metricsEnabled bool
	latency        metric.Float64Histogram
	count          metric.Int64Counter
	errors         metric.Int64Counter
	eventsOut      metric.Int64Counter
	listenerErrors metric.Int64Counter
	invalidations  metric.Int64Counter
	registration   metric.Registration
}

func newOtelInstrumentation(opts *options, c cache.MetadataCache) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
		serviceName:    opts.serviceName,
	}
	if o.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}
	if o.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp, c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider, c cache.MetadataCache) error {
	meter := mp.Meter(instrumentationName)

	var err error
	if o.latency, err = meter.Float64Histogram("mailstore.operation.duration",
		metric.WithDescription("Duration of mailstore operations"),
		metric.WithUnit("s"),
	); err != nil {
		return err
	}
	if o.count, err = meter.Int64Counter("mailstore.operation.count",
		metric.WithDescription("Number of mailstore operations"),
	); err != nil {
		return err
	}
	if o.errors, err = meter.Int64Counter("mailstore.operation.errors",
		metric.WithDescription("Number of failed mailstore operations"),
	); err != nil {
		return err
	}
	if o.eventsOut, err = meter.Int64Counter("mailstore.events.published",
		metric.WithDescription("Number of published mailbox events"),
	); err != nil {
		return err
	}
	if o.listenerErrors, err = meter.Int64Counter("mailstore.events.listener_errors",
		metric.WithDescription("Number of failed or panicking listener deliveries"),
	); err != nil {
		return err
	}
	if o.invalidations, err = meter.Int64Counter("mailstore.cache.invalidation_failures",
		metric.WithDescription("Number of cache invalidations that failed after retries"),
	); err != nil {
		return err
	}

	src, ok := c.(statsSource)
	if !ok {
		return nil
	}
	hits, err := meter.Int64ObservableCounter("mailstore.cache.hits",
		metric.WithDescription("Metadata cache hits"))
	if err != nil {
		return err
	}
	misses, err := meter.Int64ObservableCounter("mailstore.cache.misses",
		metric.WithDescription("Metadata cache misses"))
	if err != nil {
		return err
	}
	o.registration, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		st := src.Stats()
		obs.ObserveInt64(hits, st.Hits)
		obs.ObserveInt64(misses, st.Misses)
		return nil
	}, hits, misses)
	return err
}

func (o *otelInstrumentation) close() {
	if o.registration != nil {
		_ = o.registration.Unregister()
	}
}

// startSpan starts a span when tracing is enabled. The returned func ends
// it, recording err.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	attrs = append(attrs, attribute.String("service.name", o.serviceName))
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// record records one operation's duration and outcome.
func (o *otelInstrumentation) record(ctx context.Context, op string, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", op))
	o.latency.Record(ctx, duration.Seconds(), attrs)
	o.count.Add(ctx, 1, attrs)
	if err != nil {
		o.errors.Add(ctx, 1, attrs)
	}
}

// observe wraps an operation in a span and records its metrics. The
// returned func must be called with the operation's final error.
func (o *otelInstrumentation) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, end := o.startSpan(ctx, op, attrs...)
	return ctx, func(err error) {
		end(err)
		o.record(ctx, op, time.Since(start), err)
	}
}

func (o *otelInstrumentation) recordEvent(ctx context.Context, kind events.Kind) {
	if !o.metricsEnabled {
		return
	}
	o.eventsOut.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (o *otelInstrumentation) recordListenerError(err *events.ListenerError) {
	if !o.metricsEnabled {
		return
	}
	o.listenerErrors.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("listener", err.Listener),
		attribute.String("kind", err.Kind.String()),
	))
}

func (o *otelInstrumentation) recordInvalidationFailure(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.invalidations.Add(ctx, 1)
}
