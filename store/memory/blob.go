package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
)

const blobScheme = "mem://"

// BlobStore keeps attachment content in memory.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ store.BlobStore = (*BlobStore)(nil)

// NewBlobStore returns an empty blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (b *BlobStore) Upload(_ context.Context, name, _ string, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	uri := blobScheme + uuid.NewString() + "/" + name
	b.mu.Lock()
	b.blobs[uri] = data
	b.mu.Unlock()
	return uri, nil
}

func (b *BlobStore) Load(_ context.Context, uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, blobScheme) {
		return nil, fmt.Errorf("invalid memory uri: %s", uri)
	}
	b.mu.RLock()
	data, ok := b.blobs[uri]
	b.mu.RUnlock()
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *BlobStore) Delete(_ context.Context, uri string) error {
	b.mu.Lock()
	delete(b.blobs, uri)
	b.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (b *BlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}
