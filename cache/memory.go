package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// entry holds the cached aggregates of one mailbox.
type entry struct {
	mu   sync.Mutex
	vals [numFields]uint64
	set  [numFields]bool
}

// Memory is a process-local MetadataCache.
type Memory struct {
	entries sync.Map // mailbox id -> *entry
	opts    *options

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

var _ MetadataCache = (*Memory)(nil)

// New creates an empty in-memory cache.
func New(opts ...Option) *Memory {
	return &Memory{opts: newOptions(opts...)}
}

// get returns the cached field or fills it from mapper. The fetch runs
// outside the entry lock; its result is stored into the entry captured before
// the fetch, so a fill racing with Invalidate lands in the dropped entry and
// is never observed.
func (c *Memory) get(ctx context.Context, f Field, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error) {
	key := mailbox.Key()
	v, _ := c.entries.LoadOrStore(key, &entry{})
	e := v.(*entry)

	e.mu.Lock()
	if e.set[f] {
		val := e.vals[f]
		e.mu.Unlock()
		c.hits.Add(1)
		return val, nil
	}
	e.mu.Unlock()

	c.misses.Add(1)
	c.opts.logger.Debug("metadata cache miss", "mailbox", key, "field", f.String())
	val, err := Fetch(ctx, f, mailbox, mapper)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	e.vals[f] = val
	e.set[f] = true
	e.mu.Unlock()
	return val, nil
}

func (c *Memory) CountMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error) {
	v, err := c.get(ctx, FieldMessageCount, mailbox, mapper)
	return int64(v), err
}

func (c *Memory) CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error) {
	v, err := c.get(ctx, FieldUnseenCount, mailbox, mapper)
	return int64(v), err
}

func (c *Memory) FindFirstUnseenMessageUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error) {
	v, err := c.get(ctx, FieldFirstUnseenUID, mailbox, mapper)
	return imap.UID(v), err
}

func (c *Memory) LastUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error) {
	v, err := c.get(ctx, FieldLastUID, mailbox, mapper)
	return imap.UID(v), err
}

func (c *Memory) HighestModSeq(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error) {
	return c.get(ctx, FieldHighestModSeq, mailbox, mapper)
}

// Invalidate drops the entry of mailbox. It never fails.
func (c *Memory) Invalidate(_ context.Context, mailbox *store.Mailbox) error {
	key := mailbox.Key()
	c.entries.Delete(key)
	c.invalidations.Add(1)
	if c.opts.onEvict != nil {
		c.opts.onEvict(key)
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Memory) Stats() Stats {
	var n int64
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       n,
	}
}
