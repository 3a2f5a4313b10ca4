package mailstore

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rbaliyan/mailstore/store"
)

// Limits bounds what a Session accepts.
type Limits struct {
	MaxMailboxNameLength int
	MaxMessageSize       int64
	MaxAttachmentSize    int64
	MaxAnnotationSize    int
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMailboxNameLength: DefaultMaxMailboxNameLength,
		MaxMessageSize:       DefaultMaxMessageSize,
		MaxAttachmentSize:    DefaultMaxAttachmentSize,
		MaxAnnotationSize:    DefaultMaxAnnotationSize,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMailboxNameLength <= 0 {
		l.MaxMailboxNameLength = d.MaxMailboxNameLength
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = d.MaxMessageSize
	}
	if l.MaxAttachmentSize <= 0 {
		l.MaxAttachmentSize = d.MaxAttachmentSize
	}
	if l.MaxAnnotationSize <= 0 {
		l.MaxAnnotationSize = d.MaxAnnotationSize
	}
	return l
}

// ValidateUser checks that user can be used in paths and cache keys.
func ValidateUser(user string) error {
	if user == "" {
		return &ValidationError{Field: "user", Message: "empty", Err: ErrInvalidUser}
	}
	for _, c := range user {
		if c == '*' || c == ':' || c == '/' || c == '\\' || unicode.IsSpace(c) || unicode.IsControl(c) {
			return &ValidationError{Field: "user", Message: fmt.Sprintf("invalid character %q", c), Err: ErrInvalidUser}
		}
	}
	return nil
}

// ValidateMailboxName checks a hierarchical mailbox name against limits.
// Structural rules (empty levels, leading delimiter) are checked by
// store.MailboxPath.Validate.
func ValidateMailboxName(name string, limits Limits) error {
	switch {
	case !utf8.ValidString(name):
		return &ValidationError{Field: "name", Message: "not valid UTF-8", Err: ErrInvalidPath}
	case len(name) > limits.MaxMailboxNameLength:
		return &ValidationError{Field: "name", Message: fmt.Sprintf("longer than %d bytes", limits.MaxMailboxNameLength), Err: ErrInvalidPath}
	case strings.ContainsAny(name, "*%"):
		// LIST wildcards
		return &ValidationError{Field: "name", Message: "contains a wildcard", Err: ErrInvalidPath}
	}
	for _, c := range name {
		if unicode.IsControl(c) {
			return &ValidationError{Field: "name", Message: "contains a control character", Err: ErrInvalidPath}
		}
	}
	return nil
}

// ValidateMessage checks an appended message.
func ValidateMessage(msg *store.Message, limits Limits) error {
	if msg == nil {
		return &ValidationError{Field: "message", Message: "nil", Err: ErrInvalidMessage}
	}
	if msg.Size < 0 {
		return &ValidationError{Field: "size", Message: "negative", Err: ErrInvalidMessage}
	}
	if msg.Size > limits.MaxMessageSize {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("exceeds %d bytes", limits.MaxMessageSize), Err: ErrMessageTooLarge}
	}
	for _, f := range msg.Flags.List() {
		if err := validateFlag(string(f)); err != nil {
			return err
		}
	}
	return nil
}

// validateFlag accepts system flags and IMAP atoms as keywords.
func validateFlag(f string) error {
	if f == "" {
		return &ValidationError{Field: "flags", Message: "empty flag", Err: ErrInvalidMessage}
	}
	body := strings.TrimPrefix(f, "\\")
	for _, c := range body {
		if c <= ' ' || c >= 0x7f || strings.ContainsRune(`(){%*"\]`, c) {
			return &ValidationError{Field: "flags", Message: fmt.Sprintf("invalid flag %q", f), Err: ErrInvalidMessage}
		}
	}
	return nil
}

// ValidateAnnotation checks an annotation entry.
func ValidateAnnotation(a store.Annotation, limits Limits) error {
	if !strings.HasPrefix(a.Key, "/") || strings.Contains(a.Key, "//") || strings.HasSuffix(a.Key, "/") {
		return &ValidationError{Field: "key", Message: fmt.Sprintf("invalid entry name %q", a.Key), Err: ErrInvalidAnnotation}
	}
	if len(a.Value) > limits.MaxAnnotationSize {
		return &ValidationError{Field: "value", Message: fmt.Sprintf("exceeds %d bytes", limits.MaxAnnotationSize), Err: ErrInvalidAnnotation}
	}
	return nil
}
