package mailstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	mgr, rec := setupManager(t, memory.New())
	setup, _ := mgr.Session("alice")
	if _, err := setup.CreateMailbox(ctx, "INBOX"); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	const perWorker = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		uids []imap.UID
	)
	errs := make(chan error, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// One session per connection, as a protocol server would.
			sess, err := mgr.Session("alice")
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < perWorker; j++ {
				md, err := sess.AppendMessage(ctx, "INBOX", &store.Message{Size: 1})
				if err != nil {
					errs <- err
					continue
				}
				mu.Lock()
				uids = append(uids, md.UID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("append error: %v", err)
	}

	slices.Sort(uids)
	if len(slices.Compact(slices.Clone(uids))) != len(uids) {
		t.Fatal("duplicate uids issued")
	}
	if n := len(rec.ofKind(events.KindMessageAdded)); n != workers*perWorker {
		t.Errorf("expected %d MessageAdded events, got %d", workers*perWorker, n)
	}

	st, err := setup.Status(ctx, "INBOX")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Messages != workers*perWorker {
		t.Errorf("expected %d messages, got %d", workers*perWorker, st.Messages)
	}
	if st.UIDNext != uids[len(uids)-1]+1 {
		t.Errorf("expected uid next %d, got %d", uids[len(uids)-1]+1, st.UIDNext)
	}
}

func TestAsyncListenerOrder(t *testing.T) {
	ctx := context.Background()
	mgr, _ := setupManager(t, memory.New(), WithAsyncWorkers(4))

	var (
		mu   sync.Mutex
		seen = map[string][]imap.UID{}
	)
	listener := events.Handlers{
		MessageAdded: func(_ context.Context, ev *events.MessageAdded) error {
			mu.Lock()
			seen[ev.Path().Name] = append(seen[ev.Path().Name], ev.UIDs()...)
			mu.Unlock()
			return nil
		},
	}
	if _, err := mgr.Events().Subscribe(listener, events.WithName("order"), events.Async()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sess, _ := mgr.Session("alice")
	names := []string{"a", "b", "c"}
	for _, name := range names {
		if _, err := sess.CreateMailbox(ctx, name); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := sess.AppendMessage(ctx, name, &store.Message{}); err != nil {
					t.Errorf("append to %s: %v", name, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range names {
		got := seen[name]
		if len(got) != 20 {
			t.Errorf("%s: expected 20 deliveries, got %d", name, len(got))
			continue
		}
		if !slices.IsSorted(got) {
			t.Errorf("%s: deliveries out of order: %v", name, fmt.Sprint(got))
		}
	}
}
