// Package redis provides a MetadataCache shared between mail server
// processes. Each mailbox has one hash holding its aggregates and a
// generation counter bumped on every invalidation; fills are written only if
// the generation did not move while the value was being fetched.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/cache"
	"github.com/rbaliyan/mailstore/store"
	"github.com/redis/go-redis/v9"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "mailstore:meta"
	DefaultTimeout   = 2 * time.Second
)

// fillScript sets a field only if the generation is unchanged.
// KEYS[1] hash, KEYS[2] generation; ARGV[1] expected generation, ARGV[2] field, ARGV[3] value.
var fillScript = redis.NewScript(`
local g = redis.call('GET', KEYS[2]) or '0'
if g ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return 1
`)

type options struct {
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithKeyPrefix sets the prefix of cache keys.
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

// Cache is a Redis-backed cache.MetadataCache.
type Cache struct {
	client redis.UniversalClient
	opts   *options

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

var _ cache.MetadataCache = (*Cache)(nil)

// New creates a cache using client.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	o := &options{
		prefix:  DefaultKeyPrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Cache{client: client, opts: o}
}

func (c *Cache) hashKey(id string) string { return fmt.Sprintf("%s:{%s}", c.opts.prefix, id) }
func (c *Cache) genKey(id string) string  { return fmt.Sprintf("%s:{%s}:gen", c.opts.prefix, id) }

// get returns the cached field or fills it from mapper. Redis failures on
// the read or fill path degrade to a call-through; they never fail the query.
func (c *Cache) get(ctx context.Context, f cache.Field, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error) {
	id := mailbox.Key()
	rctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	var hget *redis.StringCmd
	var gen *redis.StringCmd
	_, err := c.client.Pipelined(rctx, func(p redis.Pipeliner) error {
		hget = p.HGet(rctx, c.hashKey(id), f.String())
		gen = p.Get(rctx, c.genKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		c.opts.logger.Warn("metadata cache read failed", "mailbox", id, "field", f.String(), "error", err)
		return cache.Fetch(ctx, f, mailbox, mapper)
	}
	if v, err := hget.Uint64(); err == nil {
		c.hits.Add(1)
		return v, nil
	}

	c.misses.Add(1)
	expected := gen.Val()
	if expected == "" {
		expected = "0"
	}
	val, err := cache.Fetch(ctx, f, mailbox, mapper)
	if err != nil {
		return 0, err
	}

	keys := []string{c.hashKey(id), c.genKey(id)}
	stored, err := fillScript.Run(rctx, c.client, keys, expected, f.String(), strconv.FormatUint(val, 10)).Int()
	switch {
	case err != nil:
		c.opts.logger.Warn("metadata cache fill failed", "mailbox", id, "field", f.String(), "error", err)
	case stored == 0:
		c.opts.logger.Debug("metadata cache fill skipped, invalidated during fetch", "mailbox", id, "field", f.String())
	}
	return val, nil
}

func (c *Cache) CountMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error) {
	v, err := c.get(ctx, cache.FieldMessageCount, mailbox, mapper)
	return int64(v), err
}

func (c *Cache) CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error) {
	v, err := c.get(ctx, cache.FieldUnseenCount, mailbox, mapper)
	return int64(v), err
}

func (c *Cache) FindFirstUnseenMessageUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error) {
	v, err := c.get(ctx, cache.FieldFirstUnseenUID, mailbox, mapper)
	return imap.UID(v), err
}

func (c *Cache) LastUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error) {
	v, err := c.get(ctx, cache.FieldLastUID, mailbox, mapper)
	return imap.UID(v), err
}

func (c *Cache) HighestModSeq(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error) {
	return c.get(ctx, cache.FieldHighestModSeq, mailbox, mapper)
}

// Invalidate drops the hash of mailbox and bumps its generation in one
// transaction. Unlike reads, a failed invalidation is reported, because a
// surviving entry would serve stale values to every process.
func (c *Cache) Invalidate(ctx context.Context, mailbox *store.Mailbox) error {
	id := mailbox.Key()
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.hashKey(id))
		p.Incr(ctx, c.genKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: invalidate %s: %w", store.ErrBackendUnavailable, id, err)
	}
	c.invalidations.Add(1)
	return nil
}

// Stats returns the counters of this process. Entries is not tracked.
func (c *Cache) Stats() cache.Stats {
	return cache.Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
