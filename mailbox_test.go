package mailstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

// brokenUnseen fails unseen counts of mailboxes named broken.
type brokenUnseen struct {
	*memory.Store
	broken string
}

func (f *brokenUnseen) MessageMapper(ctx context.Context, session *store.Session) (store.MessageMapper, error) {
	m, err := f.Store.MessageMapper(ctx, session)
	if err != nil {
		return nil, err
	}
	return &brokenUnseenMapper{MessageMapper: m, broken: f.broken}, nil
}

type brokenUnseenMapper struct {
	store.MessageMapper
	broken string
}

func (m *brokenUnseenMapper) CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	if mailbox.Path.Name == m.broken {
		return 0, store.Persistence("count unseen", errors.New("disk on fire"))
	}
	return m.MessageMapper.CountUnseenMessages(ctx, mailbox)
}

func TestCreateMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing parents", func(t *testing.T) {
		sess, rec := setupSession(t)
		mb, err := sess.CreateMailbox(ctx, "Work.Projects.2026")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if mb.Path.Name != "Work.Projects.2026" || mb.ID == nil {
			t.Errorf("unexpected mailbox %+v", mb)
		}
		added := rec.ofKind(events.KindMailboxAdded)
		want := []string{"Work", "Work.Projects", "Work.Projects.2026"}
		if len(added) != len(want) {
			t.Fatalf("expected %d MailboxAdded events, got %d", len(want), len(added))
		}
		for i, name := range want {
			if got := added[i].Path().Name; got != name {
				t.Errorf("event %d: expected %s, got %s", i, name, got)
			}
		}
	})

	t.Run("existing", func(t *testing.T) {
		sess, _ := setupSession(t)
		if _, err := sess.CreateMailbox(ctx, "inbox"); !errors.Is(err, ErrMailboxExists) {
			t.Errorf("expected ErrMailboxExists, got %v", err)
		}
	})

	t.Run("invalid names", func(t *testing.T) {
		sess, _ := setupSession(t)
		for _, name := range []string{"", ".a", "a.", "a..b", "a*", "a%b", "a\x01b"} {
			if _, err := sess.CreateMailbox(ctx, name); !errors.Is(err, ErrInvalidPath) {
				t.Errorf("name %q: expected ErrInvalidPath, got %v", name, err)
			}
		}
	})

	t.Run("plugin veto", func(t *testing.T) {
		p := &vetoPlugin{name: "veto", rejectCreate: "Forbidden"}
		sess, rec := setupSession(t, WithPlugin(p))
		_, err := sess.CreateMailbox(ctx, "Forbidden")
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Plugin != "veto" {
			t.Fatalf("expected PluginError from veto, got %v", err)
		}
		if _, err := sess.Mailbox(ctx, "Forbidden"); !errors.Is(err, ErrMailboxNotFound) {
			t.Errorf("expected nothing created, got %v", err)
		}
		if n := len(rec.all()); n != 0 {
			t.Errorf("expected no events, got %d", n)
		}
	})
}

func TestDeleteMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("inbox is immutable", func(t *testing.T) {
		sess, _ := setupSession(t)
		if err := sess.DeleteMailbox(ctx, "Inbox"); !errors.Is(err, ErrInboxImmutable) {
			t.Errorf("expected ErrInboxImmutable, got %v", err)
		}
	})

	t.Run("deletes and publishes", func(t *testing.T) {
		sess, rec := setupSession(t)
		if _, err := sess.CreateMailbox(ctx, "Old"); err != nil {
			t.Fatalf("create: %v", err)
		}
		rec.reset()
		if err := sess.DeleteMailbox(ctx, "Old"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		deleted := rec.ofKind(events.KindMailboxDeleted)
		if len(deleted) != 1 || deleted[0].Path().Name != "Old" {
			t.Errorf("expected one MailboxDeleted for Old, got %v", deleted)
		}
		if err := sess.DeleteMailbox(ctx, "Old"); !errors.Is(err, ErrMailboxNotFound) {
			t.Errorf("expected ErrMailboxNotFound, got %v", err)
		}
	})
}

func TestRenameMailbox(t *testing.T) {
	ctx := context.Background()

	t.Run("payload carries both paths", func(t *testing.T) {
		sess, rec := setupSession(t)
		orig, err := sess.CreateMailbox(ctx, "A")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		rec.reset()
		renamed, err := sess.RenameMailbox(ctx, "A", "B")
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if !renamed.ID.Equal(orig.ID) {
			t.Errorf("expected the id to survive the rename")
		}
		evs := rec.ofKind(events.KindMailboxRenamed)
		if len(evs) != 1 {
			t.Fatalf("expected one MailboxRenamed, got %d", len(evs))
		}
		ev := evs[0].(*events.MailboxRenamed)
		if ev.OldPath().Name != "A" || ev.NewPath().Name != "B" || ev.Mailbox().Path.Name != "B" {
			t.Errorf("unexpected payload old=%s new=%s mailbox=%s", ev.OldPath().Name, ev.NewPath().Name, ev.Mailbox().Path.Name)
		}
	})

	t.Run("moves inferiors", func(t *testing.T) {
		sess, rec := setupSession(t)
		if _, err := sess.CreateMailbox(ctx, "Work.Done"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := sess.CreateMailbox(ctx, "Workshop"); err != nil {
			t.Fatalf("create: %v", err)
		}
		rec.reset()
		if _, err := sess.RenameMailbox(ctx, "Work", "Archive.Work"); err != nil {
			t.Fatalf("rename: %v", err)
		}
		for _, name := range []string{"Archive", "Archive.Work", "Archive.Work.Done", "Workshop"} {
			if _, err := sess.Mailbox(ctx, name); err != nil {
				t.Errorf("expected %s to exist: %v", name, err)
			}
		}
		if _, err := sess.Mailbox(ctx, "Work.Done"); !errors.Is(err, ErrMailboxNotFound) {
			t.Errorf("expected Work.Done to be gone, got %v", err)
		}
		if n := len(rec.ofKind(events.KindMailboxRenamed)); n != 2 {
			t.Errorf("expected 2 MailboxRenamed events, got %d", n)
		}
		if n := len(rec.ofKind(events.KindMailboxAdded)); n != 1 {
			t.Errorf("expected the Archive parent to be created, got %d MailboxAdded", n)
		}
	})

	t.Run("keeps messages and counters", func(t *testing.T) {
		sess, _ := setupSession(t)
		if _, err := sess.CreateMailbox(ctx, "A"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := sess.AppendMessage(ctx, "A", &store.Message{}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := sess.Status(ctx, "A"); err != nil {
			t.Fatalf("status: %v", err)
		}
		if _, err := sess.RenameMailbox(ctx, "A", "B"); err != nil {
			t.Fatalf("rename: %v", err)
		}
		md, err := sess.AppendMessage(ctx, "B", &store.Message{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if md.UID != 2 {
			t.Errorf("expected uid 2 after rename, got %d", md.UID)
		}
		st, err := sess.Status(ctx, "B")
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Messages != 2 {
			t.Errorf("expected 2 messages, got %d", st.Messages)
		}
	})

	t.Run("rejected renames", func(t *testing.T) {
		sess, _ := setupSession(t)
		if _, err := sess.CreateMailbox(ctx, "A"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := sess.CreateMailbox(ctx, "B"); err != nil {
			t.Fatalf("create: %v", err)
		}
		cases := []struct {
			from, to string
			want     error
		}{
			{"INBOX", "Old", ErrInboxImmutable},
			{"A", "B", ErrMailboxExists},
			{"A", "inbox", ErrMailboxExists},
			{"A", "A.Sub", ErrInvalidPath},
			{"Missing", "C", ErrMailboxNotFound},
		}
		for _, tc := range cases {
			if _, err := sess.RenameMailbox(ctx, tc.from, tc.to); !errors.Is(err, tc.want) {
				t.Errorf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, err)
			}
		}
	})
}

func TestListMailboxes(t *testing.T) {
	ctx := context.Background()

	t.Run("roles and unread counts", func(t *testing.T) {
		sess, _ := setupSession(t)
		for _, name := range []string{"Sent", "TRASH", "Projects", "spam"} {
			if _, err := sess.CreateMailbox(ctx, name); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
		}
		for i := 0; i < 2; i++ {
			if _, err := sess.AppendMessage(ctx, "INBOX", &store.Message{}); err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		infos, err := sess.ListMailboxes(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		want := map[string]struct {
			role   Role
			unread int64
		}{
			"INBOX":    {RoleInbox, 2},
			"Sent":     {RoleSent, 0},
			"TRASH":    {RoleTrash, 0},
			"Projects": {RoleNone, 0},
			"spam":     {RoleSpam, 0},
		}
		if len(infos) != len(want) {
			t.Fatalf("expected %d mailboxes, got %d", len(want), len(infos))
		}
		for _, info := range infos {
			w, ok := want[info.Name]
			if !ok {
				t.Errorf("unexpected mailbox %s", info.Name)
				continue
			}
			if info.Role != w.role || info.UnreadMessages != w.unread {
				t.Errorf("%s: expected role %q unread %d, got %q %d", info.Name, w.role, w.unread, info.Role, info.UnreadMessages)
			}
			if info.ID == "" {
				t.Errorf("%s: expected an id", info.Name)
			}
		}
	})

	t.Run("failing mailbox is skipped", func(t *testing.T) {
		factory := &brokenUnseen{Store: memory.New(), broken: "Broken"}
		mgr, _ := setupManager(t, factory)
		sess, _ := mgr.Session("alice")
		for _, name := range []string{"INBOX", "Broken", "Drafts"} {
			if _, err := sess.CreateMailbox(ctx, name); err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
		}
		infos, err := sess.ListMailboxes(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(infos) != 2 {
			t.Fatalf("expected 2 mailboxes, got %+v", infos)
		}
		// Name order is kept around the gap.
		if infos[0].Name != "Drafts" || infos[1].Name != "INBOX" {
			t.Errorf("unexpected order %s, %s", infos[0].Name, infos[1].Name)
		}
	})

	t.Run("json encoding", func(t *testing.T) {
		data, err := json.Marshal(MailboxInfo{ID: "1", Name: "Sent", Role: RoleSent, UnreadMessages: 3})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		want := `{"id":"1","name":"Sent","role":"sent","unreadMessages":3}`
		if string(data) != want {
			t.Errorf("expected %s, got %s", want, data)
		}
	})
}

func TestRoleOf(t *testing.T) {
	tests := map[string]Role{
		"INBOX":   RoleInbox,
		"Archive": RoleArchive,
		"drafts":  RoleDrafts,
		"Outbox":  RoleOutbox,
		"SENT":    RoleSent,
		"Trash":   RoleTrash,
		"Spam":    RoleSpam,
		"Junk":    RoleNone,
		"Work":    RoleNone,
	}
	for name, want := range tests {
		if got := RoleOf(name); got != want {
			t.Errorf("RoleOf(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestSubscriptions(t *testing.T) {
	ctx := context.Background()
	sess, _ := setupSession(t)

	for _, name := range []string{"Sent", "INBOX"} {
		if err := sess.Subscribe(ctx, name); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}
	if err := sess.Unsubscribe(ctx, "Sent"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	names, err := sess.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("subscriptions: %v", err)
	}
	if len(names) != 1 || names[0] != "INBOX" {
		t.Errorf("expected [INBOX], got %v", names)
	}
	if err := sess.Subscribe(ctx, "bad*"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}
}

func TestAnnotations(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		sess, _ := setupSession(t)
		err := sess.SetAnnotations(ctx, "INBOX",
			store.Annotation{Key: "/comment", Value: "hello"},
			store.Annotation{Key: "/vendor/x", Value: "1"},
		)
		if err != nil {
			t.Fatalf("set: %v", err)
		}
		got, err := sess.Annotations(ctx, "INBOX", "/comment")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(got) != 1 || got[0].Value != "hello" {
			t.Errorf("unexpected annotations %+v", got)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		sess, _ := setupSession(t)
		err := sess.SetAnnotations(ctx, "INBOX", store.Annotation{Key: "comment", Value: "x"})
		if !errors.Is(err, ErrInvalidAnnotation) {
			t.Errorf("expected ErrInvalidAnnotation, got %v", err)
		}
	})

	t.Run("not supported", func(t *testing.T) {
		mgr, _ := setupManager(t, memory.New(memory.WithAnnotations(false)))
		sess, _ := mgr.Session("alice")
		if _, err := sess.CreateMailbox(ctx, "INBOX"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := sess.Annotations(ctx, "INBOX"); !errors.Is(err, ErrNotSupported) {
			t.Errorf("expected ErrNotSupported, got %v", err)
		}
		if mgr.Capabilities().Has(store.CapAnnotations) {
			t.Error("expected no annotation capability")
		}
	})
}
