// Package store defines the contracts between the mailbox core and its
// storage backends: mappers handed out per session, the sequence providers
// that allocate UIDs and mod-sequences, and the shared data model.
package store

import (
	"context"
	"io"

	"github.com/emersion/go-imap/v2"
)

// MailboxMapper manages mailboxes.
type MailboxMapper interface {
	// FindMailboxByPath returns ErrMailboxNotFound when the path is unknown.
	FindMailboxByPath(ctx context.Context, path MailboxPath) (*Mailbox, error)
	FindMailboxByID(ctx context.Context, id MailboxID) (*Mailbox, error)
	// List returns the mailboxes of user in namespace, ordered by name.
	List(ctx context.Context, namespace, user string) ([]*Mailbox, error)
	// Save creates the mailbox, assigning its ID and UIDValidity.
	Save(ctx context.Context, mailbox *Mailbox) (*Mailbox, error)
	// Rename moves the mailbox to path and returns the updated mailbox.
	Rename(ctx context.Context, mailbox *Mailbox, path MailboxPath) (*Mailbox, error)
	// Delete removes the mailbox with all its messages.
	Delete(ctx context.Context, mailbox *Mailbox) error
}

// MessageMapper manages the messages of mailboxes.
type MessageMapper interface {
	CountMessages(ctx context.Context, mailbox *Mailbox) (int64, error)
	CountUnseenMessages(ctx context.Context, mailbox *Mailbox) (int64, error)
	// FindFirstUnseenMessageUID returns 0 when every message is seen.
	FindFirstUnseenMessageUID(ctx context.Context, mailbox *Mailbox) (imap.UID, error)
	// LastUID returns the highest UID ever issued, or 0.
	LastUID(ctx context.Context, mailbox *Mailbox) (imap.UID, error)
	HighestModSeq(ctx context.Context, mailbox *Mailbox) (uint64, error)

	// Add stores msg, assigning a fresh UID and mod-sequence.
	Add(ctx context.Context, mailbox *Mailbox, msg *Message) (MessageMetaData, error)
	// UpdateFlags applies op to the messages in uids.
	UpdateFlags(ctx context.Context, mailbox *Mailbox, uids imap.UIDSet, op imap.StoreFlags) (*FlagUpdateResult, error)
	// Expunge removes the selected messages and returns their last state in
	// ascending UID order.
	Expunge(ctx context.Context, mailbox *Mailbox, criteria ExpungeCriteria) ([]MessageMetaData, error)
	FindInMailbox(ctx context.Context, mailbox *Mailbox, uids imap.UIDSet, order Order) ([]*Message, error)
}

// SubscriptionMapper manages per-user mailbox subscriptions.
type SubscriptionMapper interface {
	Subscribe(ctx context.Context, user, mailbox string) error
	Unsubscribe(ctx context.Context, user, mailbox string) error
	Subscriptions(ctx context.Context, user string) ([]string, error)
}

// AnnotationMapper manages mailbox annotations.
type AnnotationMapper interface {
	// Annotations returns the entries matching keys, or all entries when keys is empty.
	Annotations(ctx context.Context, mailbox *Mailbox, keys ...string) ([]Annotation, error)
	// SetAnnotations upserts entries. An empty value removes the key.
	SetAnnotations(ctx context.Context, mailbox *Mailbox, annotations ...Annotation) error
}

// AttachmentMapper manages attachments of messages.
type AttachmentMapper interface {
	StoreAttachment(ctx context.Context, mailbox *Mailbox, uid imap.UID, filename, contentType string, content io.Reader) (*Attachment, error)
	Attachments(ctx context.Context, mailbox *Mailbox, uid imap.UID) ([]*Attachment, error)
	LoadAttachment(ctx context.Context, id string) (*Attachment, io.ReadCloser, error)
}

// Capability flags advertised by a SessionMapperFactory.
type Capability uint8

const (
	CapSubscriptions Capability = 1 << iota
	CapAnnotations
	CapAttachments
)

// Has reports whether all of want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// SessionMapperFactory hands out mappers bound to one session. Mappers are
// not shared across sessions, but a single mapper must be safe for concurrent
// use by the goroutines of its session: status and listing fan out aggregate
// reads over one MessageMapper. Capabilities a backend lacks are served by the
// Unsupported mappers, so callers can check Capabilities once at
// configuration time.
type SessionMapperFactory interface {
	MailboxMapper(ctx context.Context, session *Session) (MailboxMapper, error)
	MessageMapper(ctx context.Context, session *Session) (MessageMapper, error)
	SubscriptionMapper(ctx context.Context, session *Session) (SubscriptionMapper, error)
	AnnotationMapper(ctx context.Context, session *Session) (AnnotationMapper, error)
	AttachmentMapper(ctx context.Context, session *Session) (AttachmentMapper, error)
	Capabilities() Capability
}

// Connector is implemented by factories holding connections.
type Connector interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// UIDProvider allocates message UIDs. Values for a mailbox are strictly
// increasing across process restarts; gaps are allowed.
type UIDProvider interface {
	NextUID(ctx context.Context, mailbox *Mailbox) (imap.UID, error)
	// LastUID returns the last issued UID, or 0 if none was issued.
	LastUID(ctx context.Context, mailbox *Mailbox) (imap.UID, error)
}

// ModSeqProvider allocates mod-sequences with the same guarantees as UIDProvider.
type ModSeqProvider interface {
	NextModSeq(ctx context.Context, mailbox *Mailbox) (uint64, error)
	HighestModSeq(ctx context.Context, mailbox *Mailbox) (uint64, error)
}
