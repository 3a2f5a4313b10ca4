package store

import (
	"time"

	"github.com/emersion/go-imap/v2"
)

// Message is a message stored in exactly one mailbox.
type Message struct {
	MailboxID    MailboxID
	UID          imap.UID
	ModSeq       uint64
	Flags        Flags
	Size         int64
	InternalDate time.Time
	// ContentRef is an opaque reference to the message body, interpreted by
	// whatever stores bodies.
	ContentRef string
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Flags = m.Flags.Clone()
	return &c
}

// MetaData snapshots the message.
func (m *Message) MetaData() MessageMetaData {
	return MessageMetaData{
		UID:          m.UID,
		ModSeq:       m.ModSeq,
		Flags:        m.Flags.Clone(),
		Size:         m.Size,
		InternalDate: m.InternalDate,
	}
}

// MessageMetaData is a snapshot of a message taken at the moment of a mutation.
type MessageMetaData struct {
	UID          imap.UID  `json:"uid"`
	ModSeq       uint64    `json:"modseq"`
	Flags        Flags     `json:"-"`
	Size         int64     `json:"size"`
	InternalDate time.Time `json:"internal_date"`
}

// Clone returns a copy that shares no state with md.
func (md MessageMetaData) Clone() MessageMetaData {
	md.Flags = md.Flags.Clone()
	return md
}

// UpdatedFlags describes the flag change of one message.
type UpdatedFlags struct {
	UID      imap.UID
	ModSeq   uint64
	OldFlags Flags
	NewFlags Flags
}

// Clone returns a copy that shares no state with u.
func (u UpdatedFlags) Clone() UpdatedFlags {
	u.OldFlags = u.OldFlags.Clone()
	u.NewFlags = u.NewFlags.Clone()
	return u
}

// Changed reports whether the flag set differs.
func (u UpdatedFlags) Changed() bool {
	return !u.OldFlags.Equal(u.NewFlags)
}

// Added returns the flags set by the update.
func (u UpdatedFlags) Added() []imap.Flag {
	return u.NewFlags.Diff(u.OldFlags)
}

// Removed returns the flags cleared by the update.
func (u UpdatedFlags) Removed() []imap.Flag {
	return u.OldFlags.Diff(u.NewFlags)
}

// FlagUpdateResult is the outcome of a batch flag update. The batch is not
// atomic: Updated holds the messages that were processed, in UID order, and
// Failed holds per-UID errors for the rest.
type FlagUpdateResult struct {
	Updated []UpdatedFlags
	Failed  map[imap.UID]error
}

// Changed returns the entries whose flags actually changed.
func (r *FlagUpdateResult) Changed() []UpdatedFlags {
	var out []UpdatedFlags
	for _, u := range r.Updated {
		if u.Changed() {
			out = append(out, u)
		}
	}
	return out
}

// ExpungeCriteria selects the messages to expunge.
type ExpungeCriteria struct {
	// UIDs restricts the selection. An empty set selects every message.
	UIDs imap.UIDSet
	// DeletedOnly restricts the selection to messages flagged \Deleted.
	DeletedOnly bool
}

// Matches reports whether msg is selected.
func (c ExpungeCriteria) Matches(msg *Message) bool {
	if len(c.UIDs) > 0 && !c.UIDs.Contains(msg.UID) {
		return false
	}
	if c.DeletedOnly && !msg.Flags.Deleted() {
		return false
	}
	return true
}

// AllUIDs returns the set "1:*".
func AllUIDs() imap.UIDSet {
	var s imap.UIDSet
	s.AddRange(1, 0)
	return s
}

// HasBareStar reports whether uids contains a lone "*".
func HasBareStar(uids imap.UIDSet) bool {
	for _, r := range uids {
		if r.Start == 0 && r.Stop == 0 {
			return true
		}
	}
	return false
}

// MatchUID reports whether uid is selected by uids, given last, the highest
// UID present in the mailbox. A bare "*" selects last only; n:* selects
// every UID from n up; reversed ranges are accepted.
func MatchUID(uids imap.UIDSet, uid, last imap.UID) bool {
	for _, r := range uids {
		start, stop := r.Start, r.Stop
		switch {
		case start == 0 && stop == 0:
			if last != 0 && uid == last {
				return true
			}
		case start == 0 || stop == 0:
			if uid >= max(start, stop) {
				return true
			}
		case uid >= min(start, stop) && uid <= max(start, stop):
			return true
		}
	}
	return false
}
