package mailstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

// recorder collects events delivered synchronously.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Handle(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range r.all() {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}

// setupManager returns a connected Manager over factory with a synchronous
// recorder subscribed.
func setupManager(t *testing.T, factory store.SessionMapperFactory, opts ...Option) (*Manager, *recorder) {
	t.Helper()
	ctx := context.Background()
	mgr, err := New(append([]Option{WithFactory(factory)}, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	rec := &recorder{}
	if _, err := mgr.Events().Subscribe(rec, events.WithName("recorder")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })
	return mgr, rec
}

func setupSession(t *testing.T, opts ...Option) (*Session, *recorder) {
	t.Helper()
	mgr, rec := setupManager(t, memory.New(memory.WithBlobStore(memory.NewBlobStore())), opts...)
	sess, err := mgr.Session("alice")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, err := sess.CreateMailbox(context.Background(), "INBOX"); err != nil {
		t.Fatalf("create INBOX: %v", err)
	}
	rec.reset()
	return sess, rec
}

func TestNew(t *testing.T) {
	t.Run("requires factory", func(t *testing.T) {
		_, err := New()
		if !errors.Is(err, ErrFactoryRequired) {
			t.Errorf("expected ErrFactoryRequired, got %v", err)
		}
	})

	t.Run("defaults cache and bus", func(t *testing.T) {
		mgr, err := New(WithFactory(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mgr.Cache() == nil {
			t.Error("expected default cache")
		}
		if mgr.Events() == nil {
			t.Error("expected default event bus")
		}
		if mgr.IsConnected() {
			t.Error("new manager should not be connected")
		}
	})

	t.Run("uses given bus", func(t *testing.T) {
		bus := events.NewBus()
		defer bus.Close(context.Background())
		mgr, err := New(WithFactory(memory.New()), WithEventBus(bus))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if mgr.Events() != bus {
			t.Error("expected the given bus")
		}
	})
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("connect and close", func(t *testing.T) {
		mgr, err := New(WithFactory(memory.New()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := mgr.Session("alice"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected before Connect, got %v", err)
		}

		if err := mgr.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if !mgr.IsConnected() {
			t.Error("expected connected")
		}

		// Double connect should fail
		if err := mgr.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got %v", err)
		}

		if err := mgr.Close(ctx); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		// Double close should be safe
		if err := mgr.Close(ctx); err != nil {
			t.Errorf("second close should not error, got %v", err)
		}
		if err := mgr.Connect(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed on reconnect, got %v", err)
		}
	})

	t.Run("already connected backend is accepted", func(t *testing.T) {
		backend := memory.New()
		if err := backend.Connect(ctx); err != nil {
			t.Fatalf("connect backend: %v", err)
		}
		mgr, err := New(WithFactory(backend))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mgr.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		defer mgr.Close(ctx)
	})

	t.Run("session after close", func(t *testing.T) {
		mgr, _ := setupManager(t, memory.New())
		sess, err := mgr.Session("alice")
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		if err := mgr.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		if _, err := sess.Status(ctx, "INBOX"); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if _, err := mgr.Session("alice"); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	})

	t.Run("close drains async listeners", func(t *testing.T) {
		mgr, err := New(WithFactory(memory.New()), WithShutdownTimeout(5*time.Second))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var (
			mu  sync.Mutex
			got int
		)
		slow := events.ListenerFunc(func(context.Context, events.Event) error {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			got++
			mu.Unlock()
			return nil
		})
		if _, err := mgr.Events().Subscribe(slow, events.Async()); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if err := mgr.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		sess, _ := mgr.Session("alice")
		for _, name := range []string{"a", "b", "c"} {
			if _, err := sess.CreateMailbox(ctx, name); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
		}
		if err := mgr.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if got != 3 {
			t.Errorf("expected 3 deliveries before Close returned, got %d", got)
		}
	})
}

func TestSession(t *testing.T) {
	mgr, _ := setupManager(t, memory.New())

	t.Run("invalid user", func(t *testing.T) {
		for _, user := range []string{"", "a b", "a*b", "a/b"} {
			if _, err := mgr.Session(user); !errors.Is(err, ErrInvalidUser) {
				t.Errorf("user %q: expected ErrInvalidUser, got %v", user, err)
			}
		}
	})

	t.Run("identity", func(t *testing.T) {
		a, _ := mgr.Session("alice")
		b, _ := mgr.Session("alice")
		if a.User() != "alice" {
			t.Errorf("expected alice, got %q", a.User())
		}
		if a.ID() == "" || a.ID() == b.ID() {
			t.Errorf("expected distinct non-empty session ids, got %q and %q", a.ID(), b.ID())
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		ctx := context.Background()
		alice, _ := mgr.Session("alice")
		bob, _ := mgr.Session("bob")
		if _, err := alice.CreateMailbox(ctx, "Private"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := bob.Mailbox(ctx, "Private"); !errors.Is(err, ErrMailboxNotFound) {
			t.Errorf("expected ErrMailboxNotFound for another user's mailbox, got %v", err)
		}
	})
}
