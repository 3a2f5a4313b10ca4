package cached

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/store/memory"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *memory.BlobStore) {
	t.Helper()
	backend := memory.NewBlobStore()
	s, err := New(backend, append([]Option{WithDir(t.TempDir())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, backend
}

func readAll(t *testing.T, s *Store, uri string) string {
	t.Helper()
	rc, err := s.Load(context.Background(), uri)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestLoadServesFromCache(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	uri, err := s.Upload(ctx, "a.txt", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, s, uri); got != "hello" {
		t.Fatalf("first load = %q", got)
	}
	if s.Size() != 5 {
		t.Errorf("Size = %d, want 5", s.Size())
	}

	// Remove from the backend behind the cache's back: the copy on disk still serves.
	if err := backend.Delete(ctx, uri); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, s, uri); got != "hello" {
		t.Errorf("cached load = %q", got)
	}
}

func TestDeleteEvicts(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	uri, _ := s.Upload(ctx, "a.txt", "text/plain", strings.NewReader("hello"))
	readAll(t, s, uri)
	if err := s.Delete(ctx, uri); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 0 {
		t.Errorf("Size = %d after delete", s.Size())
	}
	if backend.Len() != 0 {
		t.Errorf("backend still holds %d blobs", backend.Len())
	}
	if _, err := s.Load(ctx, uri); err == nil {
		t.Error("load after delete succeeded")
	}
}

func TestPartialReadNotCached(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	uri, _ := s.Upload(ctx, "a.txt", "text/plain", strings.NewReader("hello world"))
	rc, err := s.Load(ctx, uri)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 3)
	if _, err := rc.Read(buf); err != nil {
		t.Fatal(err)
	}
	_ = rc.Close()
	if s.Size() != 0 {
		t.Errorf("partial read cached %d bytes", s.Size())
	}
}

func TestMaxSize(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithMaxSize(8))

	small, _ := s.Upload(ctx, "s", "text/plain", strings.NewReader("1234"))
	large, _ := s.Upload(ctx, "l", "text/plain", strings.NewReader("123456789"))
	readAll(t, s, small)
	readAll(t, s, large)
	if s.Size() != 4 {
		t.Errorf("Size = %d, want 4", s.Size())
	}
}

func TestExpire(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithTTL(time.Hour))

	uri, _ := s.Upload(ctx, "a.txt", "text/plain", strings.NewReader("hello"))
	readAll(t, s, uri)
	s.expire(time.Now().Add(2 * time.Hour))
	if s.Size() != 0 {
		t.Errorf("Size = %d after expiry", s.Size())
	}
}
