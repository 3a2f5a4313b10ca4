package memory

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// Counters keeps UID and mod-sequence counters in process memory.
// Values are not durable.
type Counters struct {
	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	uid    uint64
	modseq uint64
}

var (
	_ store.UIDProvider    = (*Counters)(nil)
	_ store.ModSeqProvider = (*Counters)(nil)
)

// NewCounters returns empty counters.
func NewCounters() *Counters {
	return &Counters{counters: make(map[string]*counter)}
}

func (c *Counters) get(mailbox *store.Mailbox) *counter {
	key := mailbox.Key()
	cnt, ok := c.counters[key]
	if !ok {
		cnt = &counter{}
		c.counters[key] = cnt
	}
	return cnt
}

func (c *Counters) NextUID(_ context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt := c.get(mailbox)
	if cnt.uid >= math.MaxUint32 {
		return 0, fmt.Errorf("%w: uid space exhausted for %s", store.ErrPersistence, mailbox.Path)
	}
	cnt.uid++
	return imap.UID(cnt.uid), nil
}

func (c *Counters) LastUID(_ context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return imap.UID(c.get(mailbox).uid), nil
}

func (c *Counters) NextModSeq(_ context.Context, mailbox *store.Mailbox) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt := c.get(mailbox)
	cnt.modseq++
	return cnt.modseq, nil
}

func (c *Counters) HighestModSeq(_ context.Context, mailbox *store.Mailbox) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(mailbox).modseq, nil
}
