// Package bolt provides UID and mod-sequence providers persisted in a bbolt
// database file. Each mailbox gets a nested bucket whose sequence is the
// counter, so allocation is a single write transaction.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	bbolt "go.etcd.io/bbolt"
)

// Default configuration values.
const (
	DefaultUIDBucket    = "uid"
	DefaultModSeqBucket = "modseq"
	DefaultOpenTimeout  = 10 * time.Second
)

type options struct {
	uidBucket    string
	modseqBucket string
	openTimeout  time.Duration
	logger       *slog.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithBuckets sets the top-level bucket names.
func WithBuckets(uid, modseq string) Option {
	return func(o *options) {
		if uid != "" {
			o.uidBucket = uid
		}
		if modseq != "" {
			o.modseqBucket = modseq
		}
	}
}

// WithOpenTimeout sets how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
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

// Provider implements store.UIDProvider and store.ModSeqProvider.
type Provider struct {
	db     *bbolt.DB
	owned  bool
	opts   *options
	logger *slog.Logger
}

var (
	_ store.UIDProvider    = (*Provider)(nil)
	_ store.ModSeqProvider = (*Provider)(nil)
)

func newOptions(opts ...Option) *options {
	o := &options{
		uidBucket:    DefaultUIDBucket,
		modseqBucket: DefaultModSeqBucket,
		openTimeout:  DefaultOpenTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open opens (or creates) the database at path. Close releases it.
func Open(path string, opts ...Option) (*Provider, error) {
	o := newOptions(opts...)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: o.openTimeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", store.ErrBackendUnavailable, path, err)
	}
	p := &Provider{db: db, owned: true, opts: o, logger: o.logger}
	if err := p.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	o.logger.Info("opened sequence database", "path", path)
	return p, nil
}

// New wraps an already open database. The caller keeps ownership of db.
func New(db *bbolt.DB, opts ...Option) (*Provider, error) {
	o := newOptions(opts...)
	p := &Provider{db: db, opts: o, logger: o.logger}
	if err := p.init(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) init() error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{p.opts.uidBucket, p.opts.modseqBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	return store.Persistence("create buckets", err)
}

// Close closes the database if it was opened by Open.
func (p *Provider) Close() error {
	if !p.owned {
		return nil
	}
	return p.db.Close()
}

// next increments the mailbox counter under root and returns the new value.
func (p *Provider) next(ctx context.Context, root string, mailbox *store.Mailbox) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var v uint64
	err := p.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(root)).CreateBucketIfNotExists([]byte(mailbox.Key()))
		if err != nil {
			return err
		}
		v, err = b.NextSequence()
		return err
	})
	if err != nil {
		return 0, store.Persistence("next "+root, err)
	}
	return v, nil
}

// current returns the mailbox counter under root, or 0 if none was issued.
func (p *Provider) current(ctx context.Context, root string, mailbox *store.Mailbox) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var v uint64
	err := p.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(root)).Bucket([]byte(mailbox.Key())); b != nil {
			v = b.Sequence()
		}
		return nil
	})
	if err != nil {
		return 0, store.Persistence("read "+root, err)
	}
	return v, nil
}

func (p *Provider) NextUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.next(ctx, p.opts.uidBucket, mailbox)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: uid space exhausted for %s", store.ErrPersistence, mailbox.Path)
	}
	p.logger.Debug("allocated uid", "mailbox", mailbox.Key(), "uid", v)
	return imap.UID(v), nil
}

func (p *Provider) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.current(ctx, p.opts.uidBucket, mailbox)
	return imap.UID(v), err
}

func (p *Provider) NextModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.next(ctx, p.opts.modseqBucket, mailbox)
}

func (p *Provider) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.current(ctx, p.opts.modseqBucket, mailbox)
}

// Forget drops the counters of a deleted mailbox. Mailbox ids are never
// reused by the bundled backends, so this only reclaims space.
func (p *Provider) Forget(mailbox *store.Mailbox) error {
	err := p.db.Update(func(tx *bbolt.Tx) error {
		for _, root := range []string{p.opts.uidBucket, p.opts.modseqBucket} {
			err := tx.Bucket([]byte(root)).DeleteBucket([]byte(mailbox.Key()))
			if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	})
	return store.Persistence("forget counters", err)
}
