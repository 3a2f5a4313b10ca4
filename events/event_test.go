package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

func testMailbox(name string) *store.Mailbox {
	return &store.Mailbox{ID: store.ID("id-" + name), Path: store.UserPath("alice", name), UIDValidity: 42}
}

func fixedFactory() *Factory {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Factory{Now: func() time.Time { return at }}
}

func TestFactory(t *testing.T) {
	session := &store.Session{ID: "s-1", User: "alice"}
	f := fixedFactory()

	t.Run("added carries metadata", func(t *testing.T) {
		mb := testMailbox("INBOX")
		ev := f.Added(session, mb,
			store.MessageMetaData{UID: 9, ModSeq: 3, Flags: store.NewFlags(imap.FlagSeen)},
			store.MessageMetaData{UID: 4, ModSeq: 2},
		)
		if ev.Kind() != KindMessageAdded || ev.SessionID() != "s-1" {
			t.Fatalf("unexpected header %v %q", ev.Kind(), ev.SessionID())
		}
		if !ev.Path().Equal(mb.Path) || !ev.Mailbox().ID.Equal(mb.ID) {
			t.Errorf("unexpected mailbox %v", ev.Path())
		}
		uids := ev.UIDs()
		if len(uids) != 2 || uids[0] != 4 || uids[1] != 9 {
			t.Errorf("expected [4 9], got %v", uids)
		}
		md, ok := ev.MetaData(9)
		if !ok || md.ModSeq != 3 || !md.Flags.Seen() {
			t.Errorf("unexpected metadata %+v", md)
		}
		if !ev.OccurredAt().Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
			t.Errorf("unexpected timestamp %v", ev.OccurredAt())
		}
	})

	t.Run("flags updated lists every changed uid", func(t *testing.T) {
		mb := testMailbox("INBOX")
		var updates []store.UpdatedFlags
		for i, uid := range []imap.UID{9, 5, 7} {
			updates = append(updates, store.UpdatedFlags{
				UID:      uid,
				ModSeq:   uint64(10 + i),
				OldFlags: store.NewFlags(),
				NewFlags: store.NewFlags(imap.FlagSeen),
			})
		}
		ev := f.FlagsUpdated(session, mb, updates...)
		uids := ev.UIDs()
		if len(uids) != 3 || uids[0] != 5 || uids[1] != 7 || uids[2] != 9 {
			t.Fatalf("expected [5 7 9], got %v", uids)
		}
		for _, uid := range []imap.UID{5, 7, 9} {
			u, ok := ev.Update(uid)
			if !ok || !u.NewFlags.Seen() || u.OldFlags.Seen() {
				t.Errorf("uid %d: unexpected update %+v", uid, u)
			}
		}
		if _, ok := ev.Update(6); ok {
			t.Error("expected no update for uid 6")
		}
	})

	t.Run("rename carries both paths", func(t *testing.T) {
		a := store.UserPath("alice", "A")
		renamed := &store.Mailbox{ID: store.ID("id-a"), Path: store.UserPath("alice", "B")}
		ev := f.MailboxRenamed(session, a, renamed)
		if ev.Path().Name != "A" || ev.OldPath().Name != "A" {
			t.Errorf("expected old path A, got %v", ev.Path())
		}
		if ev.NewPath().Name != "B" || ev.Mailbox().Path.Name != "B" {
			t.Errorf("expected new path B, got %v", ev.NewPath())
		}
	})

	t.Run("payloads are copied", func(t *testing.T) {
		mb := testMailbox("INBOX")
		flags := store.NewFlags(imap.FlagSeen)
		ev := f.Expunged(session, mb, store.MessageMetaData{UID: 1, Flags: flags})
		mb.Path.Name = "Other"
		flags[`\deleted`] = imap.FlagDeleted

		if ev.Path().Name != "INBOX" || ev.Mailbox().Path.Name != "INBOX" {
			t.Error("event observed caller mutation of mailbox")
		}
		md, _ := ev.MetaData(1)
		if md.Flags.Deleted() {
			t.Error("event observed caller mutation of flags")
		}

		got := ev.Mailbox()
		got.Path.Name = "Mutated"
		md.Flags[`\draft`] = imap.FlagDraft
		again, _ := ev.MetaData(1)
		if ev.Mailbox().Path.Name != "INBOX" || again.Flags.Has(imap.FlagDraft) {
			t.Error("accessor returned shared state")
		}
	})

	t.Run("nil session and zero factory", func(t *testing.T) {
		var zero Factory
		ev := zero.MailboxAdded(nil, testMailbox("Work"))
		if ev.SessionID() != "" || ev.OccurredAt().IsZero() {
			t.Errorf("unexpected event %+v", ev)
		}
	})
}

func TestHandlers(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	mb := testMailbox("INBOX")
	var got []Kind
	h := Handlers{
		MessageAdded: func(_ context.Context, ev *MessageAdded) error {
			got = append(got, ev.Kind())
			return nil
		},
		MailboxDeleted: func(_ context.Context, ev *MailboxDeleted) error {
			got = append(got, ev.Kind())
			return errors.New("boom")
		},
	}
	if err := h.Handle(ctx, f.Added(nil, mb)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := h.Handle(ctx, f.MailboxAdded(nil, mb)); err != nil {
		t.Fatalf("unhandled variant should be ignored: %v", err)
	}
	if err := h.Handle(ctx, f.MailboxDeleted(nil, mb)); err == nil {
		t.Fatal("expected handler error")
	}
	if len(got) != 2 || got[0] != KindMessageAdded || got[1] != KindMailboxDeleted {
		t.Errorf("unexpected dispatch %v", got)
	}
}
