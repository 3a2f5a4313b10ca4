package mailstore

import (
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/mailstore/store"
)

func TestValidateUser(t *testing.T) {
	for _, user := range []string{"alice", "bob@example.com", "user_1"} {
		if err := ValidateUser(user); err != nil {
			t.Errorf("user %q: unexpected error %v", user, err)
		}
	}
	for _, user := range []string{"", "a b", "a:b", "a/b", `a\b`, "a*", "a\tb"} {
		err := ValidateUser(user)
		var ve *ValidationError
		if !errors.As(err, &ve) || !errors.Is(err, ErrInvalidUser) {
			t.Errorf("user %q: expected ValidationError with ErrInvalidUser, got %v", user, err)
		}
	}
}

func TestValidateMailboxName(t *testing.T) {
	limits := Limits{MaxMailboxNameLength: 10}.withDefaults()

	valid := []string{"INBOX", "Work.2026", "Entwürfe", "a.b.c"}
	for _, name := range valid {
		if err := ValidateMailboxName(name, limits); err != nil {
			t.Errorf("name %q: unexpected error %v", name, err)
		}
	}

	invalid := []string{
		strings.Repeat("x", 11),
		"a*",
		"a%",
		"a\nb",
		"\xff",
	}
	for _, name := range invalid {
		if err := ValidateMailboxName(name, limits); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("name %q: expected ErrInvalidPath, got %v", name, err)
		}
	}
}

func TestValidateMessage(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name string
		msg  *store.Message
		want error
	}{
		{"ok", &store.Message{Size: 10, Flags: store.NewFlags(`\Seen`, "$Label1")}, nil},
		{"nil", nil, ErrInvalidMessage},
		{"negative size", &store.Message{Size: -1}, ErrInvalidMessage},
		{"too large", &store.Message{Size: limits.MaxMessageSize + 1}, ErrMessageTooLarge},
		{"flag with space", &store.Message{Flags: store.NewFlags("a b")}, ErrInvalidMessage},
		{"flag with paren", &store.Message{Flags: store.NewFlags("a)")}, ErrInvalidMessage},
		{"empty flag", &store.Message{Flags: store.NewFlags("")}, ErrInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.msg, limits)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAnnotation(t *testing.T) {
	limits := Limits{MaxAnnotationSize: 4}.withDefaults()
	tests := []struct {
		a  store.Annotation
		ok bool
	}{
		{store.Annotation{Key: "/comment", Value: "hi"}, true},
		{store.Annotation{Key: "/vendor/acme/x", Value: ""}, true},
		{store.Annotation{Key: "comment", Value: "hi"}, false},
		{store.Annotation{Key: "/a//b", Value: "hi"}, false},
		{store.Annotation{Key: "/a/", Value: "hi"}, false},
		{store.Annotation{Key: "/comment", Value: "too long"}, false},
	}
	for _, tt := range tests {
		err := ValidateAnnotation(tt.a, limits)
		if tt.ok && err != nil {
			t.Errorf("%+v: unexpected error %v", tt.a, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidAnnotation) {
			t.Errorf("%+v: expected ErrInvalidAnnotation, got %v", tt.a, err)
		}
	}
}

func TestLimitsDefaults(t *testing.T) {
	l := Limits{MaxMessageSize: 10}.withDefaults()
	d := DefaultLimits()
	if l.MaxMessageSize != 10 {
		t.Errorf("expected explicit value kept, got %d", l.MaxMessageSize)
	}
	if l.MaxMailboxNameLength != d.MaxMailboxNameLength || l.MaxAttachmentSize != d.MaxAttachmentSize || l.MaxAnnotationSize != d.MaxAnnotationSize {
		t.Errorf("expected defaults for zero fields, got %+v", l)
	}
}
