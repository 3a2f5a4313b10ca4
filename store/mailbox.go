package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultNamespace is the namespace of personal mailboxes.
const DefaultNamespace = "#private"

// PathDelimiter separates hierarchy levels in mailbox names.
const PathDelimiter = "."

// MailboxID identifies a mailbox inside one backend. Implementations are
// opaque to callers; String must return a stable serialized form that the
// same backend can parse back.
type MailboxID interface {
	String() string
	Equal(other MailboxID) bool
}

// ID is the string-backed MailboxID used by the bundled backends.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// Equal reports whether other serializes to the same value.
func (id ID) Equal(other MailboxID) bool {
	return other != nil && other.String() == string(id)
}

// MailboxPath is the logical location of a mailbox.
type MailboxPath struct {
	Namespace string `json:"namespace"`
	User      string `json:"user"`
	Name      string `json:"name"`
}

// UserPath returns the path of a personal mailbox of user.
func UserPath(user, name string) MailboxPath {
	return MailboxPath{Namespace: DefaultNamespace, User: user, Name: name}
}

func (p MailboxPath) String() string {
	return fmt.Sprintf("%s:%s:%s", p.Namespace, p.User, p.Name)
}

// Equal compares paths. The INBOX name is matched case-insensitively.
func (p MailboxPath) Equal(other MailboxPath) bool {
	if p.Namespace != other.Namespace || p.User != other.User {
		return false
	}
	if p.IsInbox() && other.IsInbox() {
		return true
	}
	return p.Name == other.Name
}

// IsInbox reports whether the path names the user's INBOX.
func (p MailboxPath) IsInbox() bool {
	return strings.EqualFold(p.Name, "INBOX")
}

// Validate checks that the path can be stored.
func (p MailboxPath) Validate() error {
	switch {
	case p.Namespace == "":
		return fmt.Errorf("%w: empty namespace", ErrInvalidPath)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidPath)
	case strings.HasPrefix(p.Name, PathDelimiter) || strings.HasSuffix(p.Name, PathDelimiter):
		return fmt.Errorf("%w: name %q starts or ends with delimiter", ErrInvalidPath, p.Name)
	case strings.Contains(p.Name, PathDelimiter+PathDelimiter):
		return fmt.Errorf("%w: name %q has an empty level", ErrInvalidPath, p.Name)
	}
	return nil
}

// Mailbox is a named container of messages. Backends own mailbox state;
// callers only receive copies.
type Mailbox struct {
	ID          MailboxID
	Path        MailboxPath
	UIDValidity uint32
}

// Clone returns a copy of the mailbox. IDs are treated as immutable values.
func (m *Mailbox) Clone() *Mailbox {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Key returns the serialized mailbox id, suitable as a map or cache key.
func (m *Mailbox) Key() string {
	if m == nil || m.ID == nil {
		return ""
	}
	return m.ID.String()
}

// Session identifies the protocol session a mapper is bound to.
type Session struct {
	ID   string
	User string
}

// NewSession returns a session for user with a random id.
func NewSession(user string) *Session {
	return &Session{ID: uuid.NewString(), User: user}
}
