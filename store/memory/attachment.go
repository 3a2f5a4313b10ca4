package memory

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
)

type attachmentMapper struct {
	store *Store
}

// countingReader counts bytes passed through to the blob store.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (m *attachmentMapper) StoreAttachment(ctx context.Context, mailbox *store.Mailbox, uid imap.UID, filename, contentType string, content io.Reader) (*store.Attachment, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	_, ok := st.messages[uid]
	st.mu.Unlock()
	if !ok {
		return nil, store.ErrMessageNotFound
	}

	cr := &countingReader{r: content}
	name := fmt.Sprintf("%s/%d/%s", mailbox.Key(), uid, filename)
	uri, err := m.store.opts.blobs.Upload(ctx, name, contentType, cr)
	if err != nil {
		return nil, store.Persistence("upload attachment", err)
	}

	att := &store.Attachment{
		ID:          uuid.NewString(),
		MailboxID:   mailbox.Key(),
		UID:         uid,
		Filename:    filename,
		ContentType: contentType,
		Size:        cr.n,
		URI:         uri,
		CreatedAt:   time.Now().UTC(),
	}
	m.store.mu.Lock()
	m.store.attachments[att.ID] = att
	m.store.mu.Unlock()

	c := *att
	return &c, nil
}

func (m *attachmentMapper) Attachments(_ context.Context, mailbox *store.Mailbox, uid imap.UID) ([]*store.Attachment, error) {
	if _, err := m.store.state(mailbox); err != nil {
		return nil, err
	}
	m.store.mu.RLock()
	var out []*store.Attachment
	for _, att := range m.store.attachments {
		if att.MailboxID == mailbox.Key() && att.UID == uid {
			c := *att
			out = append(out, &c)
		}
	}
	m.store.mu.RUnlock()
	slices.SortFunc(out, func(a, b *store.Attachment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *attachmentMapper) LoadAttachment(ctx context.Context, id string) (*store.Attachment, io.ReadCloser, error) {
	m.store.mu.RLock()
	att, ok := m.store.attachments[id]
	m.store.mu.RUnlock()
	if !ok {
		return nil, nil, store.ErrMessageNotFound
	}
	rc, err := m.store.opts.blobs.Load(ctx, att.URI)
	if err != nil {
		return nil, nil, store.Persistence("load attachment", err)
	}
	c := *att
	return &c, rc, nil
}

// dropAttachments removes the attachments of the given messages, or of the
// whole mailbox when uids is nil. Blob deletion failures are logged; the
// metadata is removed regardless.
func (s *Store) dropAttachments(ctx context.Context, mailboxID string, uids []imap.UID) {
	s.mu.Lock()
	var dropped []*store.Attachment
	for id, att := range s.attachments {
		if att.MailboxID == mailboxID && (uids == nil || slices.Contains(uids, att.UID)) {
			dropped = append(dropped, att)
			delete(s.attachments, id)
		}
	}
	s.mu.Unlock()

	if s.opts.blobs == nil {
		return
	}
	for _, att := range dropped {
		if err := s.opts.blobs.Delete(ctx, att.URI); err != nil {
			s.opts.logger.Warn("failed to delete attachment content", "uri", att.URI, "error", err)
		}
	}
}
