package mailstore

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/attribute"
)

// AppendMessage stores msg in the named mailbox. The backend assigns the
// UID and mod-sequence; the returned metadata carries both.
//
// A MessageAdded event is published once the message is stored. In strict
// cache mode a CacheError may be returned together with valid metadata:
// the message was stored and the event published.
func (s *Session) AppendMessage(ctx context.Context, name string, msg *store.Message) (md store.MessageMetaData, err error) {
	ctx, end := s.m.otel.observe(ctx, opAppend, attribute.String("mailbox", name))
	defer func() { end(err) }()

	if err := ValidateMessage(msg, s.m.opts.limits); err != nil {
		return store.MessageMetaData{}, err
	}
	mb, err := s.find(ctx, name)
	if err != nil {
		return store.MessageMetaData{}, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return store.MessageMetaData{}, err
	}

	msg = msg.Clone()
	if msg.InternalDate.IsZero() {
		msg.InternalDate = time.Now().UTC()
	}
	if err := s.m.plugins.beforeAppend(ctx, s.session, mb.Path, msg); err != nil {
		return store.MessageMetaData{}, err
	}
	if err := ValidateMessage(msg, s.m.opts.limits); err != nil {
		return store.MessageMetaData{}, err
	}

	md, err = mapper.Add(ctx, mb, msg)
	if err != nil {
		return store.MessageMetaData{}, wrap(err)
	}
	cacheErr := s.invalidate(ctx, mb)
	s.publish(ctx, s.m.events.Added(s.session, mb, md))
	s.m.plugins.afterAppend(ctx, s.session, mb, md)
	return md, cacheErr
}

// StoreFlags applies op to the messages of uids in the named mailbox.
//
// The batch is not atomic: messages that vanished concurrently are listed
// in the result's Failed map and the rest are updated. One FlagsUpdated
// event carries the messages whose flags actually changed; none is
// published when nothing changed.
func (s *Session) StoreFlags(ctx context.Context, name string, uids imap.UIDSet, op imap.StoreFlags) (res *store.FlagUpdateResult, err error) {
	ctx, end := s.m.otel.observe(ctx, opStore, attribute.String("mailbox", name))
	defer func() { end(err) }()

	for _, f := range op.Flags {
		if err := validateFlag(string(f)); err != nil {
			return nil, err
		}
	}
	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return nil, err
	}

	res, err = mapper.UpdateFlags(ctx, mb, uids, op)
	if err != nil {
		return nil, wrap(err)
	}
	changed := res.Changed()
	if len(changed) == 0 {
		return res, nil
	}
	cacheErr := s.invalidate(ctx, mb)
	s.publish(ctx, s.m.events.FlagsUpdated(s.session, mb, changed...))
	return res, cacheErr
}

// Expunge removes the messages selected by criteria from the named mailbox
// and returns their last state in ascending UID order. Removed UIDs are
// never reissued.
func (s *Session) Expunge(ctx context.Context, name string, criteria store.ExpungeCriteria) (expunged []store.MessageMetaData, err error) {
	ctx, end := s.m.otel.observe(ctx, opExpunge, attribute.String("mailbox", name))
	defer func() { end(err) }()

	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return nil, err
	}

	expunged, err = mapper.Expunge(ctx, mb, criteria)
	if err != nil {
		return nil, wrap(err)
	}
	if len(expunged) == 0 {
		return expunged, nil
	}
	cacheErr := s.invalidate(ctx, mb)
	s.publish(ctx, s.m.events.Expunged(s.session, mb, expunged...))
	return expunged, cacheErr
}

// ExpungeDeleted removes every message flagged \Deleted.
func (s *Session) ExpungeDeleted(ctx context.Context, name string) ([]store.MessageMetaData, error) {
	return s.Expunge(ctx, name, store.ExpungeCriteria{DeletedOnly: true})
}

// Messages returns the messages of uids in the named mailbox, sorted by
// UID in the given order. An empty set selects every message.
func (s *Session) Messages(ctx context.Context, name string, uids imap.UIDSet, order store.Order) (msgs []*store.Message, err error) {
	ctx, end := s.m.otel.observe(ctx, opMessages, attribute.String("mailbox", name))
	defer func() { end(err) }()

	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		uids = store.AllUIDs()
	}
	msgs, err = mapper.FindInMailbox(ctx, mb, uids, order)
	if err != nil {
		return nil, wrap(err)
	}
	return msgs, nil
}

// IsCacheError reports whether err only signals a failed cache
// invalidation after a committed mutation.
func IsCacheError(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce)
}
