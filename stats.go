package mailstore

import (
	"context"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// MailboxStatus holds the aggregates protocol front-ends report on SELECT
// and STATUS.
type MailboxStatus struct {
	Path          store.MailboxPath `json:"path"`
	Messages      int64             `json:"messages"`
	Unseen        int64             `json:"unseen"`
	FirstUnseen   imap.UID          `json:"first_unseen,omitempty"`
	UIDNext       imap.UID          `json:"uid_next"`
	UIDValidity   uint32            `json:"uid_validity"`
	HighestModSeq uint64            `json:"highest_modseq"`
}

// Status returns the aggregates of the named mailbox. Every value is read
// through the metadata cache; misses are fetched in parallel.
func (s *Session) Status(ctx context.Context, name string) (st *MailboxStatus, err error) {
	ctx, end := s.m.otel.observe(ctx, opStatus, attribute.String("mailbox", name))
	defer func() { end(err) }()

	mb, err := s.find(ctx, name)
	if err != nil {
		return nil, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return nil, err
	}

	c := s.m.cache
	st = &MailboxStatus{Path: mb.Path, UIDValidity: mb.UIDValidity}
	var lastUID imap.UID

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.Messages, err = c.CountMessages(gctx, mb, mapper)
		return err
	})
	g.Go(func() (err error) {
		st.Unseen, err = c.CountUnseenMessages(gctx, mb, mapper)
		return err
	})
	g.Go(func() (err error) {
		st.FirstUnseen, err = c.FindFirstUnseenMessageUID(gctx, mb, mapper)
		return err
	})
	g.Go(func() (err error) {
		lastUID, err = c.LastUID(gctx, mb, mapper)
		return err
	})
	g.Go(func() (err error) {
		st.HighestModSeq, err = c.HighestModSeq(gctx, mb, mapper)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, wrap(err)
	}
	st.UIDNext = lastUID + 1
	return st, nil
}

// UnreadCount returns the number of unseen messages of the named mailbox,
// read through the metadata cache.
func (s *Session) UnreadCount(ctx context.Context, name string) (int64, error) {
	mb, err := s.find(ctx, name)
	if err != nil {
		return 0, err
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.m.cache.CountUnseenMessages(ctx, mb, mapper)
	return n, wrap(err)
}
