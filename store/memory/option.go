package memory

import (
	"log/slog"

	"github.com/rbaliyan/mailstore/store"
)

// options holds in-memory store configuration.
type options struct {
	uids        store.UIDProvider
	modseqs     store.ModSeqProvider
	blobs       store.BlobStore
	annotations bool
	logger      *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		annotations: true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.uids == nil || o.modseqs == nil {
		c := NewCounters()
		if o.uids == nil {
			o.uids = c
		}
		if o.modseqs == nil {
			o.modseqs = c
		}
	}
	return o
}

// Option configures an in-memory store.
type Option func(*options)

// WithUIDProvider sets the UID allocator. The default keeps counters in
// process memory, so UIDs restart after a restart; plug in a durable
// provider (see the sequence packages) when that matters.
func WithUIDProvider(p store.UIDProvider) Option {
	return func(o *options) {
		if p != nil {
			o.uids = p
		}
	}
}

// WithModSeqProvider sets the mod-sequence allocator.
func WithModSeqProvider(p store.ModSeqProvider) Option {
	return func(o *options) {
		if p != nil {
			o.modseqs = p
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

// WithAnnotations enables or disables mailbox annotations. Default is enabled.
func WithAnnotations(enabled bool) Option {
	return func(o *options) {
		o.annotations = enabled
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
