package mailstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

func TestAttachments(t *testing.T) {
	ctx := context.Background()

	t.Run("store list load", func(t *testing.T) {
		sess, _ := setupSession(t)
		md, err := sess.AppendMessage(ctx, "INBOX", &store.Message{Size: 10})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		att, err := sess.StoreAttachment(ctx, "INBOX", md.UID, "report.pdf", "application/pdf", strings.NewReader("pdf bytes"))
		if err != nil {
			t.Fatalf("store attachment: %v", err)
		}
		if att.Size != int64(len("pdf bytes")) || att.Filename != "report.pdf" {
			t.Errorf("unexpected attachment %+v", att)
		}

		list, err := sess.Attachments(ctx, "INBOX", md.UID)
		if err != nil {
			t.Fatalf("attachments: %v", err)
		}
		if len(list) != 1 || list[0].ID != att.ID {
			t.Fatalf("expected the stored attachment, got %+v", list)
		}

		got, rc, err := sess.LoadAttachment(ctx, att.ID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer rc.Close()
		data, _ := io.ReadAll(rc)
		if string(data) != "pdf bytes" || got.ID != att.ID {
			t.Errorf("unexpected content %q", data)
		}
	})

	t.Run("too large", func(t *testing.T) {
		sess, _ := setupSession(t, WithMaxAttachmentSize(4))
		md, err := sess.AppendMessage(ctx, "INBOX", &store.Message{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		_, err = sess.StoreAttachment(ctx, "INBOX", md.UID, "big.bin", "", strings.NewReader("12345"))
		if !errors.Is(err, ErrAttachmentTooLarge) {
			t.Fatalf("expected ErrAttachmentTooLarge, got %v", err)
		}
		list, err := sess.Attachments(ctx, "INBOX", md.UID)
		if err != nil {
			t.Fatalf("attachments: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected nothing kept, got %d", len(list))
		}

		if _, err := sess.StoreAttachment(ctx, "INBOX", md.UID, "ok.bin", "", strings.NewReader("1234")); err != nil {
			t.Errorf("expected content at the limit to be accepted, got %v", err)
		}
	})

	t.Run("unknown message", func(t *testing.T) {
		sess, _ := setupSession(t)
		_, err := sess.StoreAttachment(ctx, "INBOX", 99, "a.txt", "text/plain", strings.NewReader("x"))
		if !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("other users cannot load", func(t *testing.T) {
		mgr, _ := setupManager(t, memory.New(memory.WithBlobStore(memory.NewBlobStore())))
		alice, _ := mgr.Session("alice")
		bob, _ := mgr.Session("bob")
		if _, err := alice.CreateMailbox(ctx, "INBOX"); err != nil {
			t.Fatalf("create: %v", err)
		}
		md, err := alice.AppendMessage(ctx, "INBOX", &store.Message{})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		att, err := alice.StoreAttachment(ctx, "INBOX", md.UID, "a.txt", "text/plain", strings.NewReader("secret"))
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if _, _, err := bob.LoadAttachment(ctx, att.ID); !errors.Is(err, ErrMessageNotFound) {
			t.Errorf("expected ErrMessageNotFound, got %v", err)
		}
	})

	t.Run("not supported without blob store", func(t *testing.T) {
		mgr, _ := setupManager(t, memory.New())
		sess, _ := mgr.Session("alice")
		if _, err := sess.CreateMailbox(ctx, "INBOX"); err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err := sess.StoreAttachment(ctx, "INBOX", 1, "a.txt", "", strings.NewReader("x"))
		if !errors.Is(err, ErrNotSupported) {
			t.Errorf("expected ErrNotSupported, got %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		sess, _ := setupSession(t)
		if _, err := sess.StoreAttachment(ctx, "INBOX", 1, " ", "", strings.NewReader("x")); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("expected ErrInvalidMessage for empty filename, got %v", err)
		}
		if _, err := sess.StoreAttachment(ctx, "INBOX", 1, "a", "", nil); !errors.Is(err, ErrInvalidMessage) {
			t.Errorf("expected ErrInvalidMessage for nil content, got %v", err)
		}
	})
}

func TestLimitedReader(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("abcdef"), remaining: 6}
	data, err := io.ReadAll(r)
	if err != nil || string(data) != "abcdef" {
		t.Errorf("expected all 6 bytes, got %q, %v", data, err)
	}

	r = &limitedReader{r: strings.NewReader("abcdefg"), remaining: 6}
	_, err = io.ReadAll(r)
	if !errors.Is(err, ErrAttachmentTooLarge) || !r.exceeded {
		t.Errorf("expected ErrAttachmentTooLarge, got %v", err)
	}
}
