// Package cached wraps a store.BlobStore with a local file cache for
// attachment content. Blobs are immutable once uploaded, so a cached file
// only goes stale when the blob is deleted, which goes through this wrapper.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbaliyan/mailstore/store"
)

// Store is a caching store.BlobStore.
type Store struct {
	backend store.BlobStore
	dir     string
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	size int64

	stop chan struct{}
	done chan struct{}
}

var _ store.BlobStore = (*Store)(nil)

// New creates the cache directory and, when a TTL is set, starts the
// expiry loop. Call Close to stop it.
func New(backend store.BlobStore, opts ...Option) (*Store, error) {
	o := &options{
		dir:     os.TempDir(),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	dir := filepath.Join(o.dir, "mailstore-blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	s := &Store{
		backend: backend,
		dir:     dir,
		maxSize: o.maxSize,
		ttl:     o.ttl,
		logger:  o.logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.size = s.diskUsage()

	if o.ttl > 0 {
		go s.expireLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Upload goes straight to the backend; content is cached on first Load.
func (s *Store) Upload(ctx context.Context, name, contentType string, content io.Reader) (string, error) {
	return s.backend.Upload(ctx, name, contentType, content)
}

func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	p := s.path(uri)
	if info, err := os.Stat(p); err == nil {
		if s.ttl == 0 || time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(p); err == nil {
				s.logger.Debug("blob cache hit", "uri", uri)
				return f, nil
			}
		} else {
			s.remove(p, info.Size())
		}
	}

	rc, err := s.backend.Load(ctx, uri)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(s.dir, "tmp-*")
	if err != nil {
		s.logger.Warn("blob cache disabled for load", "uri", uri, "error", err)
		return rc, nil
	}
	return &teeReader{src: rc, tmp: tmp, dst: p, store: s}, nil
}

// Delete evicts the cached copy, then deletes from the backend.
func (s *Store) Delete(ctx context.Context, uri string) error {
	p := s.path(uri)
	if info, err := os.Stat(p); err == nil {
		s.remove(p, info.Size())
	}
	return s.backend.Delete(ctx, uri)
}

// Size returns the bytes currently cached.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close stops the expiry loop. Cached files are left on disk.
func (s *Store) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

func (s *Store) path(uri string) string {
	h := sha256.Sum256([]byte(uri))
	return filepath.Join(s.dir, hex.EncodeToString(h[:]))
}

func (s *Store) remove(p string, size int64) {
	if err := os.Remove(p); err == nil {
		s.grow(-size)
	}
}

func (s *Store) grow(delta int64) {
	s.mu.Lock()
	s.size = max(s.size+delta, 0)
	s.mu.Unlock()
}

// reserve claims n bytes if they fit under the cap.
func (s *Store) reserve(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size+n > s.maxSize {
		return false
	}
	s.size += n
	return true
}

func (s *Store) diskUsage() int64 {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to scan blob cache", "error", err)
		return 0
	}
	var n int64
	for _, e := range entries {
		if info, err := e.Info(); err == nil && !e.IsDir() {
			n += info.Size()
		}
	}
	return n
}

func (s *Store) expireLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.expire(time.Now())
		}
	}
}

func (s *Store) expire(now time.Time) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to scan blob cache", "error", err)
		return
	}
	var removed int
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() || now.Sub(info.ModTime()) <= s.ttl {
			continue
		}
		s.remove(filepath.Join(s.dir, e.Name()), info.Size())
		removed++
	}
	if removed > 0 {
		s.logger.Debug("blob cache expired entries", "removed", removed)
	}
}

// teeReader copies what the caller reads into a temp file and publishes it
// to the cache on Close, but only if the source was read to EOF.
type teeReader struct {
	src   io.ReadCloser
	tmp   *os.File
	dst   string
	store *Store
	n     int64
	eof   bool
	bad   bool
	once  sync.Once
}

func (r *teeReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 && !r.bad {
		if _, werr := r.tmp.Write(p[:n]); werr != nil {
			r.bad = true
		}
		r.n += int64(n)
	}
	if err == io.EOF {
		r.eof = true
	}
	return n, err
}

func (r *teeReader) Close() error {
	err := r.src.Close()
	r.once.Do(r.publish)
	return err
}

func (r *teeReader) publish() {
	name := r.tmp.Name()
	if cerr := r.tmp.Close(); cerr != nil || r.bad || !r.eof || !r.store.reserve(r.n) {
		_ = os.Remove(name)
		return
	}
	if err := os.Rename(name, r.dst); err != nil {
		r.store.grow(-r.n)
		_ = os.Remove(name)
		r.store.logger.Warn("failed to publish cached blob", "error", err)
	}
}
