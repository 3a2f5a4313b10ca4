package mailstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailstore/cache"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
)

// Manager states.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Manager ties a storage backend to the metadata cache and the event bus.
// It is safe for concurrent use; per-user work goes through Sessions.
//
// Every mutation follows the same sequence: the mapper commits, the
// mailbox's cache entry is invalidated, then one event describing the
// committed change is published.
type Manager struct {
	factory store.SessionMapperFactory
	cache   cache.MetadataCache
	bus     *events.Bus
	ownBus  bool
	events  *events.Factory
	logger  *slog.Logger
	opts    *options
	plugins *pluginRegistry
	otel    *otelInstrumentation
	state   atomic.Int32

	bridgeSub *events.Subscription
}

// New creates a Manager. Call Connect before opening sessions.
func New(opts ...Option) (*Manager, error) {
	o := newOptions(opts...)
	if o.factory == nil {
		return nil, ErrFactoryRequired
	}
	if o.cache == nil {
		o.cache = cache.New(cache.WithLogger(o.logger))
	}

	instr, err := newOtelInstrumentation(o, o.cache)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	m := &Manager{
		factory: o.factory,
		cache:   o.cache,
		bus:     o.bus,
		events:  events.NewFactory(),
		logger:  o.logger,
		opts:    o,
		plugins: newPluginRegistry(o.logger, o.plugins),
		otel:    instr,
	}
	if m.bus == nil {
		m.ownBus = true
		m.bus = events.NewBus(
			events.WithLogger(o.logger),
			events.WithDefaultWorkers(o.asyncWorkers),
			events.WithFailureHandler(instr.recordListenerError),
		)
	}
	return m, nil
}

// Events returns the bus mutation events are published on. Listeners may
// subscribe before Connect.
func (m *Manager) Events() *events.Bus {
	return m.bus
}

// Cache returns the metadata cache.
func (m *Manager) Cache() cache.MetadataCache {
	return m.cache
}

// Capabilities reports the optional mappers the backend supports.
func (m *Manager) Capabilities() store.Capability {
	return m.factory.Capabilities()
}

// IsConnected reports whether the Manager accepts operations.
func (m *Manager) IsConnected() bool {
	return m.state.Load() == stateConnected
}

// Connect connects the backend, initializes plugins and attaches the event
// bridge. A Manager cannot be reconnected after Close.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.state.CompareAndSwap(stateDisconnected, stateConnecting) {
		if m.state.Load() == stateClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	success := false
	defer func() {
		if success {
			m.state.Store(stateConnected)
		} else {
			m.state.Store(stateDisconnected)
		}
	}()

	conn, hasConn := m.factory.(store.Connector)
	if hasConn {
		if err := conn.Connect(ctx); err != nil && !errors.Is(err, store.ErrAlreadyConnected) {
			return fmt.Errorf("connect backend: %w", wrap(err))
		}
	}
	if err := m.plugins.initAll(ctx); err != nil {
		if hasConn {
			_ = conn.Close(ctx)
		}
		return fmt.Errorf("init plugins: %w", err)
	}
	if m.opts.bridge != nil {
		sub, err := m.bus.Subscribe(m.opts.bridge, events.WithName("bridge"), events.Async())
		if err != nil {
			_ = m.plugins.closeAll(ctx)
			if hasConn {
				_ = conn.Close(ctx)
			}
			return fmt.Errorf("attach bridge: %w", err)
		}
		m.bridgeSub = sub
	}

	success = true
	m.logger.Info("mailstore connected", "capabilities", capabilityNames(m.factory.Capabilities()))
	return nil
}

// Close drains async listeners, bounded by the shutdown timeout, then
// closes plugins, the bridge and the backend. Close is idempotent.
func (m *Manager) Close(ctx context.Context) error {
	if !m.state.CompareAndSwap(stateConnected, stateClosed) {
		m.state.CompareAndSwap(stateDisconnected, stateClosed)
		return nil
	}
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(ctx, m.opts.shutdownTimeout)
	defer cancel()
	if m.ownBus {
		if err := m.bus.Close(shutdownCtx); err != nil {
			m.logger.Warn("timeout draining event listeners, proceeding with shutdown", "error", err)
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	} else if m.bridgeSub != nil {
		m.bus.Unsubscribe(m.bridgeSub)
	}
	if m.opts.bridge != nil {
		if err := m.opts.bridge.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close bridge: %w", err))
		}
	}
	if err := m.plugins.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close plugins: %w", err))
	}
	if conn, ok := m.factory.(store.Connector); ok {
		if err := conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	m.otel.close()

	m.logger.Info("mailstore closed")
	return errors.Join(errs...)
}

func (m *Manager) checkConnected() error {
	switch m.state.Load() {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}
}

// Session opens a session for user. Sessions are cheap; open one per
// protocol connection. Mappers are acquired lazily and never shared with
// other sessions.
func (m *Manager) Session(user string) (*Session, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}
	if err := m.checkConnected(); err != nil {
		return nil, err
	}
	return &Session{m: m, session: store.NewSession(user)}, nil
}

func capabilityNames(c store.Capability) []string {
	var out []string
	for _, cap := range []struct {
		c    store.Capability
		name string
	}{
		{store.CapSubscriptions, "subscriptions"},
		{store.CapAnnotations, "annotations"},
		{store.CapAttachments, "attachments"},
	} {
		if c.Has(cap.c) {
			out = append(out, cap.name)
		}
	}
	return out
}
