package bridge

import (
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
)

// Envelope is the JSON form of an events.Event published to other
// processes. Consumers such as search indexers and replicas key on
// MailboxID and order by ModSeq.
type Envelope struct {
	Kind        string             `json:"kind"`
	SessionID   string             `json:"session_id,omitempty"`
	MailboxID   string             `json:"mailbox_id"`
	Path        store.MailboxPath  `json:"path"`
	NewPath     *store.MailboxPath `json:"new_path,omitempty"`
	UIDValidity uint32             `json:"uid_validity"`
	Messages    []MessageInfo      `json:"messages,omitempty"`
	Flags       []FlagChange       `json:"flags,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

// MessageInfo describes one added or expunged message.
type MessageInfo struct {
	UID          uint32    `json:"uid"`
	ModSeq       uint64    `json:"modseq"`
	Flags        []string  `json:"flags,omitempty"`
	Size         int64     `json:"size"`
	InternalDate time.Time `json:"internal_date"`
}

// FlagChange describes the flag update of one message.
type FlagChange struct {
	UID     uint32   `json:"uid"`
	ModSeq  uint64   `json:"modseq"`
	Flags   []string `json:"flags"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// NewEnvelope converts ev.
func NewEnvelope(ev events.Event) Envelope {
	mb := ev.Mailbox()
	env := Envelope{
		Kind:        ev.Kind().String(),
		SessionID:   ev.SessionID(),
		MailboxID:   mb.Key(),
		Path:        ev.Path(),
		UIDValidity: mb.UIDValidity,
		OccurredAt:  ev.OccurredAt(),
	}
	switch e := ev.(type) {
	case *events.MessageAdded:
		env.Messages = messageInfos(e.All())
	case *events.MessageExpunged:
		env.Messages = messageInfos(e.All())
	case *events.FlagsUpdated:
		for _, u := range e.Updates() {
			env.Flags = append(env.Flags, FlagChange{
				UID:     uint32(u.UID),
				ModSeq:  u.ModSeq,
				Flags:   u.NewFlags.Strings(),
				Added:   flagStrings(u.Added()),
				Removed: flagStrings(u.Removed()),
			})
		}
	case *events.MailboxRenamed:
		np := e.NewPath()
		env.NewPath = &np
	}
	return env
}

func messageInfos(mds []store.MessageMetaData) []MessageInfo {
	out := make([]MessageInfo, len(mds))
	for i, md := range mds {
		out[i] = MessageInfo{
			UID:          uint32(md.UID),
			ModSeq:       md.ModSeq,
			Flags:        md.Flags.Strings(),
			Size:         md.Size,
			InternalDate: md.InternalDate,
		}
	}
	return out
}

func flagStrings(flags []imap.Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
