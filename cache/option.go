package cache

import "log/slog"

type options struct {
	logger  *slog.Logger
	onEvict func(mailboxID string)
}

// Option configures a Memory cache.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEvictHook registers fn to be called after a mailbox entry is dropped.
func WithEvictHook(fn func(mailboxID string)) Option {
	return func(o *options) {
		o.onEvict = fn
	}
}

func newOptions(opts ...Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
