package mailstore

import (
	"context"
	"testing"

	"github.com/rbaliyan/event/v3/transport/channel"
	"github.com/rbaliyan/mailstore/events/bridge"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

func TestBridgeForwardsEvents(t *testing.T) {
	ctx := context.Background()
	b, err := bridge.New(ctx, bridge.WithTransport(channel.New()), bridge.WithServiceName("mailstore-test"))
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	mgr, err := New(WithFactory(memory.New()), WithBridge(b))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sess, _ := mgr.Session("alice")
	if _, err := sess.CreateMailbox(ctx, "INBOX"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := sess.AppendMessage(ctx, "INBOX", &store.Message{}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Close drains the async bridge subscription before closing the bridge.
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if published, failed := b.Stats(); published != 2 || failed != 0 {
		t.Errorf("expected 2 published, 0 failed, got %d/%d", published, failed)
	}
}
