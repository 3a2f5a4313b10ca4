package events

import (
	"cmp"
	"slices"
	"time"

	"github.com/rbaliyan/mailstore/store"
)

// Factory builds events. The zero value is ready to use.
type Factory struct {
	// Now returns the event timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewFactory returns a factory stamping events with time.Now.
func NewFactory() *Factory {
	return &Factory{Now: time.Now}
}

func (f *Factory) base(kind Kind, session *store.Session, path store.MailboxPath, mailbox *store.Mailbox) base {
	now := time.Now
	if f != nil && f.Now != nil {
		now = f.Now
	}
	b := base{
		kind:    kind,
		path:    path,
		mailbox: mailbox.Clone(),
		at:      now(),
	}
	if session != nil {
		b.sessionID = session.ID
	}
	return b
}

// Added builds a MessageAdded event for the appended messages.
func (f *Factory) Added(session *store.Session, mailbox *store.Mailbox, added ...store.MessageMetaData) *MessageAdded {
	return &MessageAdded{
		base:        f.base(KindMessageAdded, session, mailbox.Path, mailbox),
		metaDataSet: newMetaDataSet(added),
	}
}

// Expunged builds a MessageExpunged event for the removed messages.
func (f *Factory) Expunged(session *store.Session, mailbox *store.Mailbox, expunged ...store.MessageMetaData) *MessageExpunged {
	return &MessageExpunged{
		base:        f.base(KindMessageExpunged, session, mailbox.Path, mailbox),
		metaDataSet: newMetaDataSet(expunged),
	}
}

// FlagsUpdated builds a FlagsUpdated event. Entries are ordered by UID.
func (f *Factory) FlagsUpdated(session *store.Session, mailbox *store.Mailbox, updates ...store.UpdatedFlags) *FlagsUpdated {
	cp := make([]store.UpdatedFlags, len(updates))
	for i, u := range updates {
		cp[i] = u.Clone()
	}
	slices.SortStableFunc(cp, func(a, b store.UpdatedFlags) int {
		return cmp.Compare(a.UID, b.UID)
	})
	return &FlagsUpdated{
		base:    f.base(KindFlagsUpdated, session, mailbox.Path, mailbox),
		updates: cp,
	}
}

// MailboxAdded builds a MailboxAdded event.
func (f *Factory) MailboxAdded(session *store.Session, mailbox *store.Mailbox) *MailboxAdded {
	return &MailboxAdded{base: f.base(KindMailboxAdded, session, mailbox.Path, mailbox)}
}

// MailboxDeleted builds a MailboxDeleted event.
func (f *Factory) MailboxDeleted(session *store.Session, mailbox *store.Mailbox) *MailboxDeleted {
	return &MailboxDeleted{base: f.base(KindMailboxDeleted, session, mailbox.Path, mailbox)}
}

// MailboxRenamed builds a MailboxRenamed event from the path before the
// rename and the mailbox after it.
func (f *Factory) MailboxRenamed(session *store.Session, oldPath store.MailboxPath, renamed *store.Mailbox) *MailboxRenamed {
	return &MailboxRenamed{
		base:    f.base(KindMailboxRenamed, session, oldPath, renamed),
		newPath: renamed.Path,
	}
}
