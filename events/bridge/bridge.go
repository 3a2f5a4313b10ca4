// Package bridge forwards mailbox events to other processes over an
// event/v3 bus. A Bridge is an events.Listener; subscribe it, usually with
// events.Async, and every event is published as a JSON Envelope on the
// configured transport (Redis streams, a custom transport, or noop).
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/redis/go-redis/v9"
)

// Default configuration values.
const (
	DefaultServiceName = "mailstore"
	EventName          = "mailbox.changes"
)

type options struct {
	serviceName string
	transport   transport.Transport
	redisClient redis.UniversalClient
	retry       retry.Config
	kinds       map[events.Kind]bool
	logger      *slog.Logger
}

// Option configures a Bridge.
type Option func(*options)

// WithServiceName sets the bus name prefix.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTransport publishes on a custom transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
		}
	}
}

// WithRedisClient publishes on the Redis transport. Ignored when a custom
// transport is set.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithRetry sets the retry policy of each publish.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		o.retry = cfg
	}
}

// WithKinds restricts forwarding to the given kinds.
func WithKinds(kinds ...events.Kind) Option {
	return func(o *options) {
		if len(kinds) == 0 {
			return
		}
		o.kinds = make(map[events.Kind]bool, len(kinds))
		for _, k := range kinds {
			o.kinds[k] = true
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

// busCounter generates unique suffixes for bus names.
var busCounter int64

// Bridge publishes events on an event/v3 bus.
type Bridge struct {
	bus    *event.Bus
	event  event.Event[Envelope]
	opts   *options
	closed atomic.Bool

	published atomic.Int64
	failed    atomic.Int64
}

var _ events.Listener = (*Bridge)(nil)

// New creates the bus and registers the envelope event on it.
func New(ctx context.Context, opts ...Option) (*Bridge, error) {
	o := &options{
		serviceName: DefaultServiceName,
		retry:       retry.DefaultConfig(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	// Each bus needs a unique name.
	busName := fmt.Sprintf("%s-%d", o.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error
	switch {
	case o.transport != nil:
		o.logger.Info("initializing event bridge with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(o.transport))
	case o.redisClient != nil:
		o.logger.Info("initializing event bridge with Redis transport")
		t, transportErr := eventredis.New(o.redisClient)
		if transportErr != nil {
			return nil, fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		o.logger.Debug("initializing event bridge with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}
	if err != nil {
		return nil, fmt.Errorf("create event bus: %w", err)
	}

	ev := event.New[Envelope](busName + "." + EventName)
	if err := event.Register(ctx, bus, ev); err != nil && !errors.Is(err, event.ErrAlreadyBound) {
		bus.Close(ctx)
		return nil, fmt.Errorf("register %s: %w", EventName, err)
	}
	return &Bridge{bus: bus, event: ev, opts: o}, nil
}

// Event returns the bridged event so in-process consumers can subscribe to
// it the way remote consumers do.
func (b *Bridge) Event() event.Event[Envelope] { return b.event }

// Handle publishes ev. Failures are retried per the retry policy and then
// returned, which the events bus logs and reports.
func (b *Bridge) Handle(ctx context.Context, ev events.Event) error {
	if b.closed.Load() {
		return errors.New("bridge: closed")
	}
	if b.opts.kinds != nil && !b.opts.kinds[ev.Kind()] {
		return nil
	}
	env := NewEnvelope(ev)
	err := retry.Do(ctx, b.opts.retry, func(ctx context.Context) error {
		return b.event.Publish(ctx, env)
	})
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("bridge: publish %s for %s: %w", env.Kind, env.MailboxID, err)
	}
	b.published.Add(1)
	return nil
}

// Stats returns the number of published and failed envelopes.
func (b *Bridge) Stats() (published, failed int64) {
	return b.published.Load(), b.failed.Load()
}

// Close closes the bus.
func (b *Bridge) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.bus.Close(ctx)
}
