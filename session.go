package mailstore

import (
	"context"
	"strings"
	"sync"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// Session is one user's view of the store. A Session is bound to a single
// protocol connection; its mappers are acquired from the factory on first
// use and reused for the session's lifetime.
//
// Session methods are safe for concurrent use.
type Session struct {
	m       *Manager
	session *store.Session

	mu            sync.Mutex
	mailboxes     store.MailboxMapper
	messages      store.MessageMapper
	subscriptions store.SubscriptionMapper
	annotations   store.AnnotationMapper
	attachments   store.AttachmentMapper
}

// ID returns the session identifier carried by events.
func (s *Session) ID() string {
	return s.session.ID
}

// User returns the session's user.
func (s *Session) User() string {
	return s.session.User
}

// acquire returns the mapper cached in slot, creating it with get on first
// use. Failed acquisitions are not cached.
func acquire[T any](ctx context.Context, s *Session, slot *T, get func(context.Context, *store.Session) (T, error)) (T, error) {
	var zero T
	if err := s.m.checkConnected(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if any(*slot) != nil {
		return *slot, nil
	}
	mapper, err := get(ctx, s.session)
	if err != nil {
		return zero, wrap(err)
	}
	*slot = mapper
	return mapper, nil
}

func (s *Session) mailboxMapper(ctx context.Context) (store.MailboxMapper, error) {
	return acquire(ctx, s, &s.mailboxes, s.m.factory.MailboxMapper)
}

func (s *Session) messageMapper(ctx context.Context) (store.MessageMapper, error) {
	return acquire(ctx, s, &s.messages, s.m.factory.MessageMapper)
}

func (s *Session) subscriptionMapper(ctx context.Context) (store.SubscriptionMapper, error) {
	return acquire(ctx, s, &s.subscriptions, s.m.factory.SubscriptionMapper)
}

func (s *Session) annotationMapper(ctx context.Context) (store.AnnotationMapper, error) {
	return acquire(ctx, s, &s.annotations, s.m.factory.AnnotationMapper)
}

func (s *Session) attachmentMapper(ctx context.Context) (store.AttachmentMapper, error) {
	return acquire(ctx, s, &s.attachments, s.m.factory.AttachmentMapper)
}

// path resolves a user-visible mailbox name to a validated path. INBOX is
// normalized to upper case.
func (s *Session) path(name string) (store.MailboxPath, error) {
	if err := ValidateMailboxName(name, s.m.opts.limits); err != nil {
		return store.MailboxPath{}, err
	}
	if strings.EqualFold(name, "INBOX") {
		name = "INBOX"
	}
	p := store.UserPath(s.session.User, name)
	if err := p.Validate(); err != nil {
		return store.MailboxPath{}, wrap(err)
	}
	return p, nil
}

// find resolves name to a mailbox.
func (s *Session) find(ctx context.Context, name string) (*store.Mailbox, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return nil, err
	}
	mb, err := mm.FindMailboxByPath(ctx, p)
	if err != nil {
		return nil, wrap(err)
	}
	return mb, nil
}

// invalidate drops the cached aggregates of mailbox after a committed
// mutation, retrying transient failures. When it still fails the error is
// logged and counted; it is only returned in strict mode.
func (s *Session) invalidate(ctx context.Context, mailbox *store.Mailbox) error {
	err := retry.Do(ctx, s.m.opts.invalidateRetry, func(ctx context.Context) error {
		return s.m.cache.Invalidate(ctx, mailbox)
	})
	if err == nil {
		return nil
	}
	s.m.otel.recordInvalidationFailure(ctx)
	s.m.logger.Error("cache invalidation failed, aggregates may be stale",
		"mailbox", mailbox.Key(), "path", mailbox.Path.String(), "error", err)
	if s.m.opts.cacheErrorsFatal {
		return &CacheError{Mailbox: mailbox.Key(), Err: err}
	}
	return nil
}

// publish hands ev to the bus. The mutation it describes is committed, so
// a publish failure is logged and never returned.
func (s *Session) publish(ctx context.Context, ev events.Event) {
	s.m.otel.recordEvent(ctx, ev.Kind())
	if err := s.m.bus.Publish(ctx, ev); err != nil {
		s.m.logger.Warn("failed to publish event",
			"kind", ev.Kind().String(), "mailbox", ev.Path().String(), "error", err)
	}
}
