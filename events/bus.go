package events

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("events: bus closed")

// Bus fans events out to listeners. Synchronous listeners run on the
// publishing goroutine in subscription order; async listeners run on
// per-subscription queues, one goroutine each, with every mailbox pinned to
// one queue. A failing or panicking listener never stops delivery to the
// others and never fails Publish.
type Bus struct {
	opts *options

	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64
	closed atomic.Bool
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	return &Bus{opts: newOptions(opts...)}
}

type delivery struct {
	ctx context.Context
	ev  Event
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id       uint64
	name     string
	listener Listener
	bus      *Bus

	async  bool
	queues []chan delivery
	done   chan struct{}
	stop   sync.Once
	group  errgroup.Group
}

// Name returns the listener name used in logs.
func (s *Subscription) Name() string { return s.name }

// Subscribe registers l. Delivery is synchronous unless Async is given.
func (b *Bus) Subscribe(l Listener, opts ...SubscribeOption) (*Subscription, error) {
	if l == nil {
		return nil, errors.New("events: nil listener")
	}
	so := &subscribeOptions{workers: b.opts.workers}
	for _, opt := range opts {
		opt(so)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := &Subscription{
		id:       b.nextID,
		name:     so.name,
		listener: l,
		bus:      b,
		async:    so.async,
		done:     make(chan struct{}),
	}
	if sub.name == "" {
		sub.name = fmt.Sprintf("%T#%d", l, sub.id)
	}
	if sub.async {
		sub.queues = make([]chan delivery, so.workers)
		for i := range sub.queues {
			q := make(chan delivery, b.opts.queueSize)
			sub.queues[i] = q
			sub.group.Go(func() error {
				sub.run(q)
				return nil
			})
		}
	}
	// Copy on write so Publish can iterate a snapshot without holding the lock.
	subs := make([]*Subscription, 0, len(b.subs)+1)
	subs = append(subs, b.subs...)
	b.subs = append(subs, sub)
	b.opts.logger.Debug("listener subscribed", "listener", sub.name, "async", sub.async)
	return sub, nil
}

// Unsubscribe removes sub. Events already queued for an async subscription
// are still delivered in the background; Unsubscribe does not wait for them,
// so a listener may unsubscribe itself. It is safe to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.bus != b {
		return
	}
	b.mu.Lock()
	b.subs = slices.DeleteFunc(slices.Clone(b.subs), func(s *Subscription) bool { return s == sub })
	b.mu.Unlock()
	sub.signal()
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to every subscription.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return errors.New("events: nil event")
	}
	if b.closed.Load() {
		return ErrBusClosed
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.async {
			sub.enqueue(ctx, ev)
			continue
		}
		sub.deliver(ctx, ev)
	}
	return nil
}

// Close stops accepting events and waits, up to the context deadline, for
// async queues to drain.
func (b *Bus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, sub := range subs {
			sub.shutdown()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("events: close: %w", ctx.Err())
	}
}

// queueFor pins a mailbox to one queue so its events stay ordered.
func (s *Subscription) queueFor(ev Event) chan delivery {
	if len(s.queues) == 1 {
		return s.queues[0]
	}
	h := fnv.New32a()
	h.Write([]byte(ev.Mailbox().Key()))
	return s.queues[h.Sum32()%uint32(len(s.queues))]
}

func (s *Subscription) enqueue(ctx context.Context, ev Event) {
	d := delivery{ctx: context.WithoutCancel(ctx), ev: ev}
	select {
	case s.queueFor(ev) <- d:
	case <-s.done:
	}
}

func (s *Subscription) run(q chan delivery) {
	for {
		select {
		case d := <-q:
			s.deliver(d.ctx, d.ev)
		case <-s.done:
			for {
				select {
				case d := <-q:
					s.deliver(d.ctx, d.ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Subscription) signal() {
	s.stop.Do(func() { close(s.done) })
}

// shutdown signals the queues and waits for them to drain.
func (s *Subscription) shutdown() {
	s.signal()
	_ = s.group.Wait()
}

func (s *Subscription) deliver(ctx context.Context, ev Event) {
	var lerr *ListenerError
	func() {
		defer func() {
			if r := recover(); r != nil {
				lerr = s.failure(ev, fmt.Errorf("panic: %v", r))
				lerr.Panic = r
			}
		}()
		if err := s.listener.Handle(ctx, ev); err != nil {
			lerr = s.failure(ev, err)
		}
	}()
	if lerr != nil {
		s.bus.report(lerr)
	}
}

func (s *Subscription) failure(ev Event, err error) *ListenerError {
	return &ListenerError{
		Listener: s.name,
		Kind:     ev.Kind(),
		Mailbox:  ev.Mailbox().Key(),
		Err:      err,
	}
}

// report logs err and passes it to the failure hook, recovering a panicking hook.
func (b *Bus) report(err *ListenerError) {
	b.opts.logger.Error("event listener failed",
		"listener", err.Listener,
		"kind", err.Kind.String(),
		"mailbox", err.Mailbox,
		"error", err.Err,
	)
	if b.opts.onFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.opts.logger.Error("panic in listener failure handler", "listener", err.Listener, "panic", r)
		}
	}()
	b.opts.onFailure(err)
}
