package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// countingMapper serves fixed aggregates and counts calls per query.
type countingMapper struct {
	store.MessageMapper

	count, unseen int64
	firstUnseen   imap.UID
	lastUID       imap.UID
	modseq        uint64
	err           error

	calls [numFields]atomic.Int64
}

func (m *countingMapper) CountMessages(context.Context, *store.Mailbox) (int64, error) {
	m.calls[FieldMessageCount].Add(1)
	return m.count, m.err
}

func (m *countingMapper) CountUnseenMessages(context.Context, *store.Mailbox) (int64, error) {
	m.calls[FieldUnseenCount].Add(1)
	return m.unseen, m.err
}

func (m *countingMapper) FindFirstUnseenMessageUID(context.Context, *store.Mailbox) (imap.UID, error) {
	m.calls[FieldFirstUnseenUID].Add(1)
	return m.firstUnseen, m.err
}

func (m *countingMapper) LastUID(context.Context, *store.Mailbox) (imap.UID, error) {
	m.calls[FieldLastUID].Add(1)
	return m.lastUID, m.err
}

func (m *countingMapper) HighestModSeq(context.Context, *store.Mailbox) (uint64, error) {
	m.calls[FieldHighestModSeq].Add(1)
	return m.modseq, m.err
}

func testMailbox(id string) *store.Mailbox {
	return &store.Mailbox{ID: store.ID(id), Path: store.UserPath("alice", "INBOX"), UIDValidity: 1}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("stale until invalidated", func(t *testing.T) {
		c := New()
		mb := testMailbox("mb-1")
		m := &countingMapper{count: 3}

		n, err := c.CountMessages(ctx, mb, m)
		if err != nil || n != 3 {
			t.Fatalf("expected 3, got %d (%v)", n, err)
		}
		m.count = 4
		n, _ = c.CountMessages(ctx, mb, m)
		if n != 3 {
			t.Errorf("expected cached 3 before invalidation, got %d", n)
		}
		if err := c.Invalidate(ctx, mb); err != nil {
			t.Fatalf("invalidate: %v", err)
		}
		n, _ = c.CountMessages(ctx, mb, m)
		if n != 4 {
			t.Errorf("expected 4 after invalidation, got %d", n)
		}
	})

	t.Run("repeated reads call through once", func(t *testing.T) {
		c := New()
		mb := testMailbox("mb-1")
		m := &countingMapper{count: 1, unseen: 1, firstUnseen: 7, lastUID: 9, modseq: 12}
		for i := 0; i < 5; i++ {
			if _, err := c.CountMessages(ctx, mb, m); err != nil {
				t.Fatal(err)
			}
			if _, err := c.CountUnseenMessages(ctx, mb, m); err != nil {
				t.Fatal(err)
			}
			uid, _ := c.FindFirstUnseenMessageUID(ctx, mb, m)
			if uid != 7 {
				t.Errorf("expected first unseen 7, got %d", uid)
			}
			last, _ := c.LastUID(ctx, mb, m)
			if last != 9 {
				t.Errorf("expected last uid 9, got %d", last)
			}
			ms, _ := c.HighestModSeq(ctx, mb, m)
			if ms != 12 {
				t.Errorf("expected modseq 12, got %d", ms)
			}
		}
		for _, f := range Fields {
			if got := m.calls[f].Load(); got != 1 {
				t.Errorf("%s: expected 1 call, got %d", f, got)
			}
		}
		st := c.Stats()
		if st.Misses != 5 || st.Hits != 20 {
			t.Errorf("unexpected stats %+v", st)
		}
	})

	t.Run("invalidation drops every field", func(t *testing.T) {
		c := New()
		mb := testMailbox("mb-1")
		m := &countingMapper{count: 2, unseen: 1}
		_, _ = c.CountMessages(ctx, mb, m)
		_, _ = c.CountUnseenMessages(ctx, mb, m)

		m.count, m.unseen = 5, 4
		_ = c.Invalidate(ctx, mb)

		n, _ := c.CountMessages(ctx, mb, m)
		u, _ := c.CountUnseenMessages(ctx, mb, m)
		if n != 5 || u != 4 {
			t.Errorf("expected 5/4 after invalidation, got %d/%d", n, u)
		}
	})

	t.Run("mailboxes are independent", func(t *testing.T) {
		c := New()
		a, b := testMailbox("a"), testMailbox("b")
		m := &countingMapper{count: 1}
		_, _ = c.CountMessages(ctx, a, m)
		_, _ = c.CountMessages(ctx, b, m)
		_ = c.Invalidate(ctx, a)
		_, _ = c.CountMessages(ctx, b, m)
		if got := m.calls[FieldMessageCount].Load(); got != 2 {
			t.Errorf("expected 2 calls, got %d", got)
		}
	})

	t.Run("failed fetch is not cached", func(t *testing.T) {
		c := New()
		mb := testMailbox("mb-1")
		boom := errors.New("boom")
		m := &countingMapper{count: 8, err: boom}
		if _, err := c.CountMessages(ctx, mb, m); !errors.Is(err, boom) {
			t.Fatalf("expected mapper error, got %v", err)
		}
		m.err = nil
		n, err := c.CountMessages(ctx, mb, m)
		if err != nil || n != 8 {
			t.Errorf("expected 8 after recovery, got %d (%v)", n, err)
		}
		if got := m.calls[FieldMessageCount].Load(); got != 2 {
			t.Errorf("expected 2 calls, got %d", got)
		}
	})

	t.Run("evict hook", func(t *testing.T) {
		var evicted []string
		c := New(WithEvictHook(func(id string) { evicted = append(evicted, id) }))
		_ = c.Invalidate(ctx, testMailbox("x"))
		if len(evicted) != 1 || evicted[0] != "x" {
			t.Errorf("unexpected evictions %v", evicted)
		}
	})

	t.Run("concurrent readers and invalidations", func(t *testing.T) {
		c := New()
		mb := testMailbox("mb-1")
		m := &countingMapper{count: 10}
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if i%4 == 0 {
						_ = c.Invalidate(ctx, mb)
						continue
					}
					if n, err := c.CountMessages(ctx, mb, m); err != nil || n != 10 {
						t.Errorf("expected 10, got %d (%v)", n, err)
						return
					}
				}
			}(i)
		}
		wg.Wait()
	})
}
