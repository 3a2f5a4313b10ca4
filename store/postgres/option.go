package postgres

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/mailstore/store"
)

// Default configuration values.
const (
	DefaultMailboxTable      = "mailboxes"
	DefaultMessageTable      = "messages"
	DefaultSubscriptionTable = "subscriptions"
	DefaultAttachmentTable   = "attachments"
	DefaultTimeout           = 10 * time.Second
	DefaultPageSize          = 500
)

// options holds PostgreSQL store configuration.
type options struct {
	mailboxTable      string
	messageTable      string
	subscriptionTable string
	attachmentTable   string
	timeout           time.Duration
	pageSize          int
	blobs             store.BlobStore
	logger            *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		mailboxTable:      DefaultMailboxTable,
		messageTable:      DefaultMessageTable,
		subscriptionTable: DefaultSubscriptionTable,
		attachmentTable:   DefaultAttachmentTable,
		timeout:           DefaultTimeout,
		pageSize:          DefaultPageSize,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix prefixes every table name, e.g. "mail_" gives "mail_mailboxes".
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.mailboxTable = prefix + DefaultMailboxTable
			o.messageTable = prefix + DefaultMessageTable
			o.subscriptionTable = prefix + DefaultSubscriptionTable
			o.attachmentTable = prefix + DefaultAttachmentTable
		}
	}
}

// WithMailboxTable sets the mailbox table name.
func WithMailboxTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.mailboxTable = name
		}
	}
}

// WithMessageTable sets the message table name.
func WithMessageTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.messageTable = name
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

// WithPageSize sets how many rows a listing fetches per round trip.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithBlobStore enables attachments, keeping their content in b.
func WithBlobStore(b store.BlobStore) Option {
	return func(o *options) {
		if b != nil {
			o.blobs = b
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
