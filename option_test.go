package mailstore

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/cache"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o := newOptions()
		if o.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected %v, got %v", DefaultShutdownTimeout, o.shutdownTimeout)
		}
		if o.listConcurrency != DefaultListConcurrency {
			t.Errorf("expected %d, got %d", DefaultListConcurrency, o.listConcurrency)
		}
		if o.serviceName != DefaultServiceName {
			t.Errorf("expected %q, got %q", DefaultServiceName, o.serviceName)
		}
		if o.limits != DefaultLimits() {
			t.Errorf("expected default limits, got %+v", o.limits)
		}
		if o.tracingEnabled || o.metricsEnabled || o.cacheErrorsFatal {
			t.Error("expected otel and strict cache mode off by default")
		}
		if o.logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		o := newOptions(
			WithFactory(nil),
			WithCache(nil),
			WithEventBus(nil),
			WithBridge(nil),
			WithLogger(nil),
			WithPlugin(nil),
			WithAsyncWorkers(0),
			WithListConcurrency(-1),
			WithShutdownTimeout(time.Millisecond),
			WithMaxMessageSize(0),
			WithMaxAttachmentSize(-5),
			WithServiceName(""),
			WithTracerProvider(nil),
			WithMeterProvider(nil),
		)
		if o.factory != nil || o.cache != nil || o.bus != nil || o.bridge != nil {
			t.Error("nil values should be ignored")
		}
		if len(o.plugins) != 0 {
			t.Errorf("expected no plugins, got %d", len(o.plugins))
		}
		if o.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("expected timeout below minimum to be ignored, got %v", o.shutdownTimeout)
		}
		if o.listConcurrency != DefaultListConcurrency {
			t.Errorf("expected default concurrency, got %d", o.listConcurrency)
		}
		if o.limits != DefaultLimits() {
			t.Errorf("expected default limits, got %+v", o.limits)
		}
		if o.serviceName != DefaultServiceName {
			t.Errorf("expected default service name, got %q", o.serviceName)
		}
	})

	t.Run("values are applied", func(t *testing.T) {
		f := memory.New()
		c := cache.New()
		l := slog.Default()
		o := newOptions(
			WithFactory(f),
			WithCache(c),
			WithLogger(l),
			WithAsyncWorkers(3),
			WithListConcurrency(2),
			WithShutdownTimeout(5*time.Second),
			WithCacheErrorsFatal(true),
			WithInvalidateRetry(retry.Config{MaxRetries: 7}),
			WithLimits(Limits{MaxMessageSize: 100}),
			WithMaxAttachmentSize(50),
			WithOTel(true),
			WithServiceName("imapd"),
		)
		if o.factory != store.SessionMapperFactory(f) || o.cache != cache.MetadataCache(c) || o.logger != l {
			t.Error("expected the given dependencies")
		}
		if o.asyncWorkers != 3 || o.listConcurrency != 2 || o.shutdownTimeout != 5*time.Second {
			t.Errorf("unexpected concurrency settings %d/%d/%v", o.asyncWorkers, o.listConcurrency, o.shutdownTimeout)
		}
		if !o.cacheErrorsFatal || o.invalidateRetry.MaxRetries != 7 {
			t.Error("expected cache settings applied")
		}
		if o.limits.MaxMessageSize != 100 || o.limits.MaxAttachmentSize != 50 || o.limits.MaxMailboxNameLength != DefaultMaxMailboxNameLength {
			t.Errorf("unexpected limits %+v", o.limits)
		}
		if !o.tracingEnabled || !o.metricsEnabled || o.serviceName != "imapd" {
			t.Error("expected otel settings applied")
		}
	})
}

func TestOTelEnabled(t *testing.T) {
	ctx := context.Background()
	sess, _ := setupSession(t,
		WithOTel(true),
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)

	// Every instrumented path runs with providers installed.
	if _, err := sess.AppendMessage(ctx, "INBOX", &store.Message{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := sess.Status(ctx, "INBOX"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if _, err := sess.ListMailboxes(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := sess.Status(ctx, "Missing"); err == nil {
		t.Fatal("expected an error for a missing mailbox")
	}
}
