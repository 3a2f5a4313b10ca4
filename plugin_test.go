package mailstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

// vetoPlugin records its lifecycle and rejects selected operations.
type vetoPlugin struct {
	name         string
	rejectCreate string
	rejectDelete string
	rejectSize   int64
	addFlag      imap.Flag
	failInit     bool
	failAfter    bool

	mu       sync.Mutex
	calls    []string
	appended []store.MessageMetaData
}

func (p *vetoPlugin) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *vetoPlugin) Name() string { return p.name }

func (p *vetoPlugin) Init(context.Context) error {
	p.record("init")
	if p.failInit {
		return errors.New("init failed")
	}
	return nil
}

func (p *vetoPlugin) Close(context.Context) error {
	p.record("close")
	return nil
}

func (p *vetoPlugin) BeforeAppend(_ context.Context, _ *store.Session, _ store.MailboxPath, msg *store.Message) error {
	if p.rejectSize > 0 && msg.Size >= p.rejectSize {
		return errors.New("too big for policy")
	}
	if p.addFlag != "" {
		msg.Flags = msg.Flags.Apply(imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{p.addFlag}})
	}
	return nil
}

func (p *vetoPlugin) AfterAppend(_ context.Context, _ *store.Session, _ *store.Mailbox, md store.MessageMetaData) error {
	p.mu.Lock()
	p.appended = append(p.appended, md)
	p.mu.Unlock()
	if p.failAfter {
		return errors.New("after failed")
	}
	return nil
}

func (p *vetoPlugin) BeforeCreate(_ context.Context, _ *store.Session, path store.MailboxPath) error {
	if path.Name == p.rejectCreate {
		return errors.New("name reserved")
	}
	return nil
}

func (p *vetoPlugin) BeforeDelete(_ context.Context, _ *store.Session, mailbox *store.Mailbox) error {
	if mailbox.Path.Name == p.rejectDelete {
		return errors.New("mailbox protected")
	}
	return nil
}

func TestPluginLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("init and close in order", func(t *testing.T) {
		a := &vetoPlugin{name: "a"}
		b := &vetoPlugin{name: "b"}
		mgr, err := New(WithFactory(memory.New()), WithPlugins(a, b))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := mgr.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if err := mgr.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
		for _, p := range []*vetoPlugin{a, b} {
			if len(p.calls) != 2 || p.calls[0] != "init" || p.calls[1] != "close" {
				t.Errorf("plugin %s: unexpected calls %v", p.name, p.calls)
			}
		}
	})

	t.Run("failed init rolls back", func(t *testing.T) {
		a := &vetoPlugin{name: "a"}
		b := &vetoPlugin{name: "b", failInit: true}
		mgr, err := New(WithFactory(memory.New()), WithPlugin(a), WithPlugin(b))
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		err = mgr.Connect(ctx)
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Plugin != "b" || pe.Op != "init" {
			t.Fatalf("expected init PluginError from b, got %v", err)
		}
		if len(a.calls) != 2 || a.calls[1] != "close" {
			t.Errorf("expected a to be closed during rollback, got %v", a.calls)
		}
		if mgr.IsConnected() {
			t.Error("expected manager to stay disconnected")
		}
	})
}

func TestAppendHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("before append can reject", func(t *testing.T) {
		p := &vetoPlugin{name: "policy", rejectSize: 1000}
		sess, rec := setupSession(t, WithPlugin(p))
		_, err := sess.AppendMessage(ctx, "INBOX", &store.Message{Size: 5000})
		var pe *PluginError
		if !errors.As(err, &pe) || pe.Op != "BeforeAppend" {
			t.Fatalf("expected BeforeAppend PluginError, got %v", err)
		}
		if n := len(rec.all()); n != 0 {
			t.Errorf("expected no events, got %d", n)
		}
		st, _ := sess.Status(ctx, "INBOX")
		if st.Messages != 0 {
			t.Errorf("expected nothing stored, got %d", st.Messages)
		}
	})

	t.Run("before append can adjust flags", func(t *testing.T) {
		p := &vetoPlugin{name: "flagger", addFlag: "$Scanned"}
		sess, _ := setupSession(t, WithPlugin(p))
		md, err := sess.AppendMessage(ctx, "INBOX", &store.Message{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if !md.Flags.Has("$Scanned") {
			t.Errorf("expected $Scanned flag, got %v", md.Flags.List())
		}
	})

	t.Run("after append errors are not returned", func(t *testing.T) {
		p := &vetoPlugin{name: "audit", failAfter: true}
		sess, _ := setupSession(t, WithPlugin(p))
		md, err := sess.AppendMessage(ctx, "INBOX", &store.Message{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if len(p.appended) != 1 || p.appended[0].UID != md.UID {
			t.Errorf("expected AfterAppend with uid %d, got %+v", md.UID, p.appended)
		}
	})

	t.Run("before delete can reject", func(t *testing.T) {
		p := &vetoPlugin{name: "guard", rejectDelete: "Keep"}
		sess, _ := setupSession(t, WithPlugin(p))
		if _, err := sess.CreateMailbox(ctx, "Keep"); err != nil {
			t.Fatalf("create: %v", err)
		}
		var pe *PluginError
		if err := sess.DeleteMailbox(ctx, "Keep"); !errors.As(err, &pe) {
			t.Fatalf("expected PluginError, got %v", err)
		}
		if _, err := sess.Mailbox(ctx, "Keep"); err != nil {
			t.Errorf("expected Keep to survive: %v", err)
		}
	})
}
