package mailstore

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/mailstore/cache"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/events/bridge"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second
	DefaultServiceName     = "mailstore"

	// Listing
	DefaultListConcurrency = 8 // parallel unread-count lookups in ListMailboxes

	// Limits
	DefaultMaxMailboxNameLength = 255              // bytes, whole hierarchical name
	DefaultMaxMessageSize       = 50 * 1024 * 1024 // 50 MB
	DefaultMaxAttachmentSize    = 25 * 1024 * 1024 // 25 MB
	DefaultMaxAnnotationSize    = 64 * 1024        // 64 KB per value
)

// options holds Manager configuration.
type options struct {
	factory store.SessionMapperFactory
	cache   cache.MetadataCache
	bus     *events.Bus
	bridge  *bridge.Bridge
	logger  *slog.Logger

	plugins []Plugin

	asyncWorkers    int
	listConcurrency int
	shutdownTimeout time.Duration

	// Cache invalidation
	cacheErrorsFatal bool
	invalidateRetry  retry.Config

	limits Limits

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:          slog.Default(),
		asyncWorkers:    events.DefaultWorkers,
		listConcurrency: DefaultListConcurrency,
		shutdownTimeout: DefaultShutdownTimeout,
		serviceName:     DefaultServiceName,
		invalidateRetry: retry.Config{
			MaxRetries:     2,
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
		},
		limits: DefaultLimits(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Manager.
type Option func(*options)

// --- Core Options ---

// WithFactory sets the storage backend (required).
func WithFactory(f store.SessionMapperFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithCache sets the metadata cache. Defaults to an in-process cache.New().
// Share one cache.redis.Cache between processes that serve the same mailboxes.
func WithCache(c cache.MetadataCache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithEventBus sets the bus mutation events are published on. By default
// the Manager creates its own.
func WithEventBus(b *events.Bus) Option {
	return func(o *options) {
		if b != nil {
			o.bus = b
		}
	}
}

// WithBridge forwards every event to an out-of-process transport through b.
// The bridge is subscribed asynchronously on Connect and closed on Close.
func WithBridge(b *bridge.Bridge) Option {
	return func(o *options) {
		if b != nil {
			o.bridge = b
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPlugin registers a plugin. May be given several times.
func WithPlugin(p Plugin) Option {
	return func(o *options) {
		if p != nil {
			o.plugins = append(o.plugins, p)
		}
	}
}

// WithPlugins registers several plugins at once.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// --- Concurrency Options ---

// WithAsyncWorkers sets the ordered queue count of async listeners on the
// Manager's own bus. Ignored with WithEventBus.
func WithAsyncWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.asyncWorkers = n
		}
	}
}

// WithListConcurrency bounds the parallel unread-count lookups of
// ListMailboxes. Default is 8.
func WithListConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.listConcurrency = n
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for async listeners to
// drain. Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Cache Options ---

// WithCacheErrorsFatal makes a mutation return ErrCacheInvalidationFailed
// when its cache entry cannot be invalidated. The mutation itself is
// committed either way. By default the failure is logged and the event is
// still published.
func WithCacheErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.cacheErrorsFatal = fatal
	}
}

// WithInvalidateRetry sets the retry policy of cache invalidation.
func WithInvalidateRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.invalidateRetry = cfg
	}
}

// --- Limit Options ---

// WithLimits replaces all limits. Zero fields keep their defaults.
func WithLimits(l Limits) Option {
	return func(o *options) {
		o.limits = l.withDefaults()
	}
}

// WithMaxMessageSize sets the largest accepted message size in bytes.
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxMessageSize = n
		}
	}
}

// WithMaxAttachmentSize sets the largest accepted attachment in bytes.
func WithMaxAttachmentSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.limits.MaxAttachmentSize = n
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing. Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics. Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables or disables both tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name attribute of telemetry.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
// Default is otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
// Default is otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}
