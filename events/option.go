package events

import "log/slog"

// Default configuration values.
const (
	DefaultWorkers   = 4   // ordered queues per async subscription
	DefaultQueueSize = 256 // buffered events per queue
)

// FailureFunc is called for every failed delivery.
type FailureFunc func(err *ListenerError)

type options struct {
	logger    *slog.Logger
	onFailure FailureFunc
	workers   int
	queueSize int
}

// Option configures a Bus.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFailureHandler sets a callback for listener failures. Failures are
// always logged; the callback is for metrics and alerting.
func WithFailureHandler(fn FailureFunc) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

// WithDefaultWorkers sets the queue count of async subscriptions that do
// not set their own.
func WithDefaultWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets the buffer of each async queue. Publish blocks while
// the target queue is full.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:    slog.Default(),
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type subscribeOptions struct {
	name    string
	async   bool
	workers int
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeOptions)

// WithName names the listener in logs and ListenerError.
func WithName(name string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.name = name
	}
}

// Async delivers events on background queues instead of the publishing
// goroutine. Events of one mailbox are delivered in publish order.
func Async() SubscribeOption {
	return func(o *subscribeOptions) {
		o.async = true
	}
}

// WithWorkers sets the number of ordered queues of an async subscription.
// Events of different mailboxes may be delivered concurrently across queues.
func WithWorkers(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}
