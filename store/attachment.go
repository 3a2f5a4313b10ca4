package store

import (
	"context"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Attachment describes a stored message part. Content lives in a BlobStore
// under URI.
type Attachment struct {
	ID          string    `json:"id"`
	MailboxID   string    `json:"mailbox_id"`
	UID         imap.UID  `json:"uid"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URI         string    `json:"uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore handles the raw content of attachments.
// Implementations can support S3, GCS, memory, etc.
type BlobStore interface {
	// Upload stores content under a key derived from name and returns a URI
	// for later retrieval.
	Upload(ctx context.Context, name, contentType string, content io.Reader) (uri string, err error)

	// Load returns a reader for the content. Caller closes the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the content.
	Delete(ctx context.Context, uri string) error
}

// Annotation is a mailbox-level key/value entry (RFC 5464 style).
type Annotation struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
