// Package otel wraps a store.BlobStore with OpenTelemetry spans and metrics.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailstore/store/blob/otel"

// Blob operations, used in span and metric names.
const (
	opUpload = "upload"
	opLoad   = "load"
	opDelete = "delete"
)

// instruments are the metrics of one operation.
type instruments struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
	errors   metric.Int64Counter
	bytes    metric.Int64Counter
}

// Store wraps a BlobStore with tracing and metrics.
type Store struct {
	backend store.BlobStore
	opts    *options
	tracer  trace.Tracer
	ops     map[string]*instruments
}

var _ store.BlobStore = (*Store)(nil)

// New returns backend instrumented with the given options.
func New(backend store.BlobStore, opts ...Option) (*Store, error) {
	o := &options{
		tracing:        true,
		metrics:        true,
		serviceName:    DefaultServiceName,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Store{backend: backend, opts: o}
	if o.tracing {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metrics {
		meter := o.meterProvider.Meter(instrumentationName)
		s.ops = make(map[string]*instruments, 3)
		for _, op := range []string{opUpload, opLoad, opDelete} {
			in, err := newInstruments(meter, op)
			if err != nil {
				return nil, fmt.Errorf("init %s metrics: %w", op, err)
			}
			s.ops[op] = in
		}
	}
	return s, nil
}

func newInstruments(meter metric.Meter, op string) (*instruments, error) {
	prefix := "blob." + op
	var in instruments
	var err error
	if in.duration, err = meter.Float64Histogram(prefix+".duration",
		metric.WithDescription("Duration of blob "+op+" operations"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if in.count, err = meter.Int64Counter(prefix+".count",
		metric.WithDescription("Number of blob "+op+" operations")); err != nil {
		return nil, err
	}
	if in.errors, err = meter.Int64Counter(prefix+".errors",
		metric.WithDescription("Number of failed blob "+op+" operations")); err != nil {
		return nil, err
	}
	if in.bytes, err = meter.Int64Counter(prefix+".bytes",
		metric.WithDescription("Bytes transferred by blob "+op+" operations"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	return &in, nil
}

// start opens a span for op when tracing is enabled. The returned span is
// nil otherwise.
func (s *Store) start(ctx context.Context, op string, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, "blob."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient))
}

// record reports one finished operation.
func (s *Store) record(ctx context.Context, op string, start time.Time, n int64, err error, attrs []attribute.KeyValue) {
	if in := s.ops[op]; in != nil {
		set := metric.WithAttributes(attrs...)
		in.duration.Record(ctx, time.Since(start).Seconds(), set)
		in.count.Add(ctx, 1, set)
		if n > 0 {
			in.bytes.Add(ctx, n, set)
		}
		if err != nil {
			in.errors.Add(ctx, 1, set)
		}
	}
}

func endSpan(span trace.Span, n int64, err error) {
	if span == nil {
		return
	}
	if n > 0 {
		span.SetAttributes(attribute.Int64("blob.bytes", n))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	attrs := []attribute.KeyValue{
		attribute.String("blob.name", name),
		attribute.String("blob.content_type", contentType),
		attribute.String("service.name", s.opts.serviceName),
	}
	ctx, span := s.start(ctx, opUpload, attrs)
	start := time.Now()

	counter := &countingReader{r: content}
	uri, err := s.backend.Upload(ctx, name, contentType, counter)

	s.record(ctx, opUpload, start, counter.n, err, attrs)
	if span != nil && err == nil {
		span.SetAttributes(attribute.String("blob.uri", uri))
	}
	endSpan(span, counter.n, err)
	return uri, err
}

// Load ends its span and records the byte count when the reader is closed.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	attrs := []attribute.KeyValue{
		attribute.String("blob.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}
	ctx, span := s.start(ctx, opLoad, attrs)
	start := time.Now()

	rc, err := s.backend.Load(ctx, uri)
	if err != nil {
		s.record(ctx, opLoad, start, 0, err, attrs)
		endSpan(span, 0, err)
		return nil, err
	}
	return &instrumentedReader{rc: rc, store: s, ctx: ctx, span: span, start: start, attrs: attrs}, nil
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	attrs := []attribute.KeyValue{
		attribute.String("blob.uri", uri),
		attribute.String("service.name", s.opts.serviceName),
	}
	ctx, span := s.start(ctx, opDelete, attrs)
	start := time.Now()

	err := s.backend.Delete(ctx, uri)

	s.record(ctx, opDelete, start, 0, err, attrs)
	endSpan(span, 0, err)
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// instrumentedReader finishes a Load on Close.
type instrumentedReader struct {
	rc     io.ReadCloser
	store  *Store
	ctx    context.Context
	span   trace.Span
	start  time.Time
	attrs  []attribute.KeyValue
	n      int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.rc.Close()
	r.store.record(r.ctx, opLoad, r.start, r.n, err, r.attrs)
	endSpan(r.span, r.n, err)
	return err
}
