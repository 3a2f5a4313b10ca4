// Package redis provides UID and mod-sequence providers backed by Redis
// counters. INCR is atomic, and with AOF or replication enabled the counters
// survive restarts of both Redis and the mail server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"github.com/redis/go-redis/v9"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "mailstore:seq"
	DefaultTimeout   = 5 * time.Second
)

type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithKeyPrefix sets the prefix of counter keys.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout sets the per-command timeout.
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

// Provider implements store.UIDProvider and store.ModSeqProvider.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
type Provider struct {
	client redis.UniversalClient
	opts   *options
}

var (
	_ store.UIDProvider    = (*Provider)(nil)
	_ store.ModSeqProvider = (*Provider)(nil)
)

// New creates a provider using client.
func New(client redis.UniversalClient, opts ...Option) *Provider {
	o := &options{
		prefix:  DefaultKeyPrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Provider{client: client, opts: o}
}

// key uses a hash tag on the mailbox id so both counters of a mailbox land
// on the same cluster slot.
func (p *Provider) key(kind string, mailbox *store.Mailbox) string {
	return fmt.Sprintf("%s:{%s}:%s", p.opts.prefix, mailbox.Key(), kind)
}

func (p *Provider) incr(ctx context.Context, kind string, mailbox *store.Mailbox) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.timeout)
	defer cancel()
	v, err := p.client.Incr(ctx, p.key(kind, mailbox)).Result()
	if err != nil {
		return 0, store.Persistence("incr "+kind, err)
	}
	return uint64(v), nil
}

func (p *Provider) get(ctx context.Context, kind string, mailbox *store.Mailbox) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.timeout)
	defer cancel()
	v, err := p.client.Get(ctx, p.key(kind, mailbox)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Persistence("get "+kind, err)
	}
	return v, nil
}

func (p *Provider) NextUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.incr(ctx, "uid", mailbox)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: uid space exhausted for %s", store.ErrPersistence, mailbox.Path)
	}
	p.opts.logger.Debug("allocated uid", "mailbox", mailbox.Key(), "uid", v)
	return imap.UID(v), nil
}

func (p *Provider) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.get(ctx, "uid", mailbox)
	return imap.UID(v), err
}

func (p *Provider) NextModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.incr(ctx, "modseq", mailbox)
}

func (p *Provider) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.get(ctx, "modseq", mailbox)
}
