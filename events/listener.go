package events

import (
	"context"
	"fmt"
)

// Listener receives events. A returned error is logged and reported to the
// bus failure hook; it never affects the mutation or other listeners.
type Listener interface {
	Handle(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) Handle(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Handlers dispatches each variant to its own function. Nil fields ignore
// the variant.
type Handlers struct {
	MessageAdded    func(ctx context.Context, ev *MessageAdded) error
	MessageExpunged func(ctx context.Context, ev *MessageExpunged) error
	FlagsUpdated    func(ctx context.Context, ev *FlagsUpdated) error
	MailboxAdded    func(ctx context.Context, ev *MailboxAdded) error
	MailboxDeleted  func(ctx context.Context, ev *MailboxDeleted) error
	MailboxRenamed  func(ctx context.Context, ev *MailboxRenamed) error
}

func (h Handlers) Handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case *MessageAdded:
		if h.MessageAdded != nil {
			return h.MessageAdded(ctx, e)
		}
	case *MessageExpunged:
		if h.MessageExpunged != nil {
			return h.MessageExpunged(ctx, e)
		}
	case *FlagsUpdated:
		if h.FlagsUpdated != nil {
			return h.FlagsUpdated(ctx, e)
		}
	case *MailboxAdded:
		if h.MailboxAdded != nil {
			return h.MailboxAdded(ctx, e)
		}
	case *MailboxDeleted:
		if h.MailboxDeleted != nil {
			return h.MailboxDeleted(ctx, e)
		}
	case *MailboxRenamed:
		if h.MailboxRenamed != nil {
			return h.MailboxRenamed(ctx, e)
		}
	default:
		return fmt.Errorf("events: unknown event type %T", ev)
	}
	return nil
}

// ListenerError records a failed delivery.
type ListenerError struct {
	Listener string
	Kind     Kind
	Mailbox  string
	// Panic holds the recovered value when the listener panicked.
	Panic any
	Err   error
}

func (e *ListenerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("events: listener %s panicked on %s for mailbox %s: %v", e.Listener, e.Kind, e.Mailbox, e.Panic)
	}
	return fmt.Sprintf("events: listener %s failed on %s for mailbox %s: %v", e.Listener, e.Kind, e.Mailbox, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
