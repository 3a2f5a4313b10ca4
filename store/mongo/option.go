package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase               = "mailstore"
	DefaultMailboxCollection      = "mailboxes"
	DefaultMessageCollection      = "messages"
	DefaultSubscriptionCollection = "subscriptions"
	DefaultTimeout                = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database      string
	mailboxes     string
	messages      string
	subscriptions string
	timeout       time.Duration
	logger        *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:      DefaultDatabase,
		mailboxes:     DefaultMailboxCollection,
		messages:      DefaultMessageCollection,
		subscriptions: DefaultSubscriptionCollection,
		timeout:       DefaultTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithMailboxCollection sets the collection holding mailbox documents and
// their UID and mod-sequence counters.
func WithMailboxCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.mailboxes = name
		}
	}
}

// WithMessageCollection sets the message collection name.
func WithMessageCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messages = name
		}
	}
}

// WithSubscriptionCollection sets the subscription collection name.
func WithSubscriptionCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.subscriptions = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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
