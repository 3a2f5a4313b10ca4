package store

import (
	"context"
	"io"

	"github.com/emersion/go-imap/v2"
)

// UnsupportedSubscriptions fails every call with ErrNotSupported.
type UnsupportedSubscriptions struct{}

func (UnsupportedSubscriptions) Subscribe(context.Context, string, string) error {
	return ErrNotSupported
}

func (UnsupportedSubscriptions) Unsubscribe(context.Context, string, string) error {
	return ErrNotSupported
}

func (UnsupportedSubscriptions) Subscriptions(context.Context, string) ([]string, error) {
	return nil, ErrNotSupported
}

// UnsupportedAnnotations fails every call with ErrNotSupported.
type UnsupportedAnnotations struct{}

func (UnsupportedAnnotations) Annotations(context.Context, *Mailbox, ...string) ([]Annotation, error) {
	return nil, ErrNotSupported
}

func (UnsupportedAnnotations) SetAnnotations(context.Context, *Mailbox, ...Annotation) error {
	return ErrNotSupported
}

// UnsupportedAttachments fails every call with ErrNotSupported.
type UnsupportedAttachments struct{}

func (UnsupportedAttachments) StoreAttachment(context.Context, *Mailbox, imap.UID, string, string, io.Reader) (*Attachment, error) {
	return nil, ErrNotSupported
}

func (UnsupportedAttachments) Attachments(context.Context, *Mailbox, imap.UID) ([]*Attachment, error) {
	return nil, ErrNotSupported
}

func (UnsupportedAttachments) LoadAttachment(context.Context, string) (*Attachment, io.ReadCloser, error) {
	return nil, nil, ErrNotSupported
}

var (
	_ SubscriptionMapper = UnsupportedSubscriptions{}
	_ AnnotationMapper   = UnsupportedAnnotations{}
	_ AttachmentMapper   = UnsupportedAttachments{}
)
