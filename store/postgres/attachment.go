package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
)

type attachmentRow struct {
	ID          string    `db:"id"`
	MailboxID   string    `db:"mailbox_id"`
	UID         int64     `db:"uid"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	Size        int64     `db:"size"`
	URI         string    `db:"uri"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r attachmentRow) toAttachment() *store.Attachment {
	return &store.Attachment{
		ID:          r.ID,
		MailboxID:   r.MailboxID,
		UID:         imap.UID(r.UID),
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Size:        r.Size,
		URI:         r.URI,
		CreatedAt:   r.CreatedAt,
	}
}

const attachmentColumns = "id, mailbox_id, uid, filename, content_type, size, uri, created_at"

type attachmentMapper struct {
	store *Store
}

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
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}

	exists := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE mailbox_id = $1 AND uid = $2)`, m.store.opts.messageTable)
	var ok bool
	qctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	err = m.store.db.GetContext(qctx, &ok, exists, id, int64(uid))
	cancel()
	if err != nil {
		return nil, store.Persistence("find message", err)
	}
	if !ok {
		return nil, store.ErrMessageNotFound
	}

	// The upload is not bounded by the store timeout; content size is up to the caller.
	cr := &countingReader{r: content}
	uri, err := m.store.opts.blobs.Upload(ctx, fmt.Sprintf("%s/%d/%s", id, uid, filename), contentType, cr)
	if err != nil {
		return nil, store.Persistence("upload attachment", err)
	}

	row := attachmentRow{
		ID:          uuid.NewString(),
		MailboxID:   id,
		UID:         int64(uid),
		Filename:    filename,
		ContentType: contentType,
		Size:        cr.n,
		URI:         uri,
		CreatedAt:   time.Now().UTC(),
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, mailbox_id, uid, filename, content_type, size, uri, created_at)
		VALUES (:id, :mailbox_id, :uid, :filename, :content_type, :size, :uri, :created_at)
	`, m.store.opts.attachmentTable)
	qctx, cancel = context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	if _, err := m.store.db.NamedExecContext(qctx, query, row); err != nil {
		m.store.deleteBlobs(ctx, []string{uri})
		return nil, store.Persistence("insert attachment", err)
	}
	return row.toAttachment(), nil
}

func (m *attachmentMapper) Attachments(ctx context.Context, mailbox *store.Mailbox, uid imap.UID) ([]*store.Attachment, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid = $2 ORDER BY created_at, id`,
		attachmentColumns, m.store.opts.attachmentTable)
	var rows []attachmentRow
	if err := m.store.db.SelectContext(ctx, &rows, query, id, int64(uid)); err != nil {
		return nil, store.Persistence("list attachments", err)
	}
	out := make([]*store.Attachment, len(rows))
	for i, r := range rows {
		out[i] = r.toAttachment()
	}
	return out, nil
}

func (m *attachmentMapper) LoadAttachment(ctx context.Context, id string) (*store.Attachment, io.ReadCloser, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil, store.ErrInvalidID
	}
	qctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, attachmentColumns, m.store.opts.attachmentTable)
	var row attachmentRow
	err := m.store.db.GetContext(qctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, store.Persistence("find attachment", err)
	}
	rc, err := m.store.opts.blobs.Load(ctx, row.URI)
	if err != nil {
		return nil, nil, store.Persistence("load attachment", err)
	}
	return row.toAttachment(), rc, nil
}

// deleteBlobs removes attachment content after its rows are gone. Failures
// leave orphaned blobs and are only logged.
func (s *Store) deleteBlobs(ctx context.Context, uris []string) {
	if s.opts.blobs == nil {
		return
	}
	for _, uri := range uris {
		if err := s.opts.blobs.Delete(ctx, uri); err != nil {
			s.logger.Warn("failed to delete attachment content", "uri", uri, "error", err)
		}
	}
}

var _ store.AttachmentMapper = (*attachmentMapper)(nil)
