// Package events defines the notifications emitted after every mailbox and
// message mutation, and the bus delivering them to listeners.
//
// Event is a closed set: the six variants below are the only
// implementations. Listeners switch on the concrete type, or use Handlers.
// Every event is immutable; payloads are copied on construction and again
// on every accessor, so a listener cannot affect what other listeners see.
package events

import (
	"cmp"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// Kind identifies an event variant.
type Kind uint8

const (
	KindMessageAdded Kind = iota + 1
	KindMessageExpunged
	KindFlagsUpdated
	KindMailboxAdded
	KindMailboxDeleted
	KindMailboxRenamed
)

func (k Kind) String() string {
	switch k {
	case KindMessageAdded:
		return "message.added"
	case KindMessageExpunged:
		return "message.expunged"
	case KindFlagsUpdated:
		return "flags.updated"
	case KindMailboxAdded:
		return "mailbox.added"
	case KindMailboxDeleted:
		return "mailbox.deleted"
	case KindMailboxRenamed:
		return "mailbox.renamed"
	}
	return "unknown"
}

// Event is implemented by the six variants of this package only.
type Event interface {
	Kind() Kind
	// SessionID is the id of the session that performed the mutation.
	SessionID() string
	// Path is the mailbox path at mutation time. For renames it is the old path.
	Path() store.MailboxPath
	// Mailbox returns a copy of the affected mailbox. For renames it is the
	// mailbox after the rename.
	Mailbox() *store.Mailbox
	OccurredAt() time.Time

	sealed()
}

type base struct {
	kind      Kind
	sessionID string
	path      store.MailboxPath
	mailbox   *store.Mailbox
	at        time.Time
}

func (b base) Kind() Kind              { return b.kind }
func (b base) SessionID() string       { return b.sessionID }
func (b base) Path() store.MailboxPath { return b.path }
func (b base) Mailbox() *store.Mailbox { return b.mailbox.Clone() }
func (b base) OccurredAt() time.Time   { return b.at }
func (base) sealed()                   {}

// metaDataSet is the payload shared by MessageAdded and MessageExpunged.
type metaDataSet struct {
	uids []imap.UID
	md   map[imap.UID]store.MessageMetaData
}

func newMetaDataSet(in []store.MessageMetaData) metaDataSet {
	s := metaDataSet{md: make(map[imap.UID]store.MessageMetaData, len(in))}
	for _, md := range in {
		if _, dup := s.md[md.UID]; !dup {
			s.uids = append(s.uids, md.UID)
		}
		s.md[md.UID] = md.Clone()
	}
	slices.Sort(s.uids)
	return s
}

// UIDs returns the affected UIDs in ascending order.
func (s metaDataSet) UIDs() []imap.UID { return slices.Clone(s.uids) }

// Len returns the number of affected messages.
func (s metaDataSet) Len() int { return len(s.uids) }

// MetaData returns the snapshot of uid.
func (s metaDataSet) MetaData(uid imap.UID) (store.MessageMetaData, bool) {
	md, ok := s.md[uid]
	if !ok {
		return store.MessageMetaData{}, false
	}
	return md.Clone(), true
}

// All returns every snapshot in ascending UID order.
func (s metaDataSet) All() []store.MessageMetaData {
	out := make([]store.MessageMetaData, 0, len(s.uids))
	for _, uid := range s.uids {
		out = append(out, s.md[uid].Clone())
	}
	return out
}

// MessageAdded announces appended messages.
type MessageAdded struct {
	base
	metaDataSet
}

// MessageExpunged announces removed messages with their last known state.
type MessageExpunged struct {
	base
	metaDataSet
}

// FlagsUpdated announces flag changes. It holds one entry per message whose
// flags changed, each with the modseq assigned by the change.
type FlagsUpdated struct {
	base
	updates []store.UpdatedFlags
}

// UIDs returns the updated UIDs in ascending order.
func (e *FlagsUpdated) UIDs() []imap.UID {
	out := make([]imap.UID, len(e.updates))
	for i, u := range e.updates {
		out[i] = u.UID
	}
	return out
}

// Updates returns the changes in ascending UID order.
func (e *FlagsUpdated) Updates() []store.UpdatedFlags {
	out := make([]store.UpdatedFlags, len(e.updates))
	for i, u := range e.updates {
		out[i] = u.Clone()
	}
	return out
}

// Update returns the change of uid.
func (e *FlagsUpdated) Update(uid imap.UID) (store.UpdatedFlags, bool) {
	i, ok := slices.BinarySearchFunc(e.updates, uid, func(u store.UpdatedFlags, uid imap.UID) int {
		return cmp.Compare(u.UID, uid)
	})
	if !ok {
		return store.UpdatedFlags{}, false
	}
	return e.updates[i].Clone(), true
}

// MailboxAdded announces a created mailbox.
type MailboxAdded struct{ base }

// MailboxDeleted announces a deleted mailbox.
type MailboxDeleted struct{ base }

// MailboxRenamed announces a rename. Path returns the old path and Mailbox
// the renamed mailbox.
type MailboxRenamed struct {
	base
	newPath store.MailboxPath
}

// OldPath is Path, named for readability.
func (e *MailboxRenamed) OldPath() store.MailboxPath { return e.path }

// NewPath returns the path after the rename.
func (e *MailboxRenamed) NewPath() store.MailboxPath { return e.newPath }

var (
	_ Event = (*MessageAdded)(nil)
	_ Event = (*MessageExpunged)(nil)
	_ Event = (*FlagsUpdated)(nil)
	_ Event = (*MailboxAdded)(nil)
	_ Event = (*MailboxDeleted)(nil)
	_ Event = (*MailboxRenamed)(nil)
)
