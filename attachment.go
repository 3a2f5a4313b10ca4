package mailstore

import (
	"context"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// StoreAttachment stores content as an attachment of message uid in the
// named mailbox. Content beyond the attachment size limit fails the call
// with ErrAttachmentTooLarge and nothing is kept.
func (s *Session) StoreAttachment(ctx context.Context, name string, uid imap.UID, filename, contentType string, content io.Reader) (*store.Attachment, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, &ValidationError{Field: "filename", Message: "empty", Err: ErrInvalidMessage}
	}
	if content == nil {
		return nil, &ValidationError{Field: "content", Message: "nil", Err: ErrInvalidMessage}
	}
	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.attachmentMapper(ctx)
	if err != nil {
		return nil, err
	}
	limited := &limitedReader{r: content, remaining: s.m.opts.limits.MaxAttachmentSize}
	att, err := mapper.StoreAttachment(ctx, mb, uid, filename, contentType, limited)
	if limited.exceeded {
		if att != nil {
			// The backend kept a truncated copy.
			s.m.logger.Warn("backend stored truncated attachment", "attachment", att.ID, "mailbox", mb.Key())
		}
		return nil, ErrAttachmentTooLarge
	}
	if err != nil {
		return nil, wrap(err)
	}
	return att, nil
}

// Attachments lists the attachments of message uid in the named mailbox.
func (s *Session) Attachments(ctx context.Context, name string, uid imap.UID) ([]*store.Attachment, error) {
	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.attachmentMapper(ctx)
	if err != nil {
		return nil, err
	}
	out, err := mapper.Attachments(ctx, mb, uid)
	if err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

// LoadAttachment returns an attachment and its content. The caller closes
// the reader. Attachments of other users' mailboxes are reported as not
// found.
func (s *Session) LoadAttachment(ctx context.Context, id string) (*store.Attachment, io.ReadCloser, error) {
	mapper, err := s.attachmentMapper(ctx)
	if err != nil {
		return nil, nil, err
	}
	att, rc, err := mapper.LoadAttachment(ctx, id)
	if err != nil {
		return nil, nil, wrap(err)
	}
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		rc.Close()
		return nil, nil, err
	}
	mb, err := mm.FindMailboxByID(ctx, store.ID(att.MailboxID))
	if err != nil || mb.Path.User != s.session.User {
		rc.Close()
		return nil, nil, ErrMessageNotFound
	}
	return att, rc, nil
}

// limitedReader fails once more than remaining bytes are read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrAttachmentTooLarge
	}
	// Read one byte past the limit to tell "exactly at" from "over".
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n + int(l.remaining), ErrAttachmentTooLarge
	}
	return n, err
}
