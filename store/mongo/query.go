package mongo

import (
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// mailboxDoc is the BSON representation of a mailbox and its counters.
type mailboxDoc struct {
	ID            string          `bson:"_id"`
	Namespace     string          `bson:"namespace"`
	User          string          `bson:"user"`
	Name          string          `bson:"name"`
	UIDValidity   int64           `bson:"uid_validity"`
	LastUID       int64           `bson:"last_uid"`
	HighestModSeq int64           `bson:"highest_modseq"`
	Annotations   []annotationDoc `bson:"annotations,omitempty"`
}

// annotationDoc keeps keys out of field names, which may not contain dots.
type annotationDoc struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

func (d *mailboxDoc) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:          store.ID(d.ID),
		Path:        store.MailboxPath{Namespace: d.Namespace, User: d.User, Name: d.Name},
		UIDValidity: uint32(d.UIDValidity),
	}
}

// messageDoc is the BSON representation of a message. Seen and Deleted
// mirror the flag set for indexed lookups.
type messageDoc struct {
	ID           bson.ObjectID `bson:"_id"`
	MailboxID    string        `bson:"mailbox_id"`
	UID          int64         `bson:"uid"`
	ModSeq       int64         `bson:"modseq"`
	Flags        []string      `bson:"flags"`
	Seen         bool          `bson:"seen"`
	Deleted      bool          `bson:"deleted"`
	Size         int64         `bson:"size"`
	InternalDate time.Time     `bson:"internal_date"`
	ContentRef   string        `bson:"content_ref,omitempty"`
}

func newMessageDoc(mailboxID string, msg *store.Message) *messageDoc {
	return &messageDoc{
		ID:           bson.NewObjectID(),
		MailboxID:    mailboxID,
		UID:          int64(msg.UID),
		ModSeq:       int64(msg.ModSeq),
		Flags:        msg.Flags.Strings(),
		Seen:         msg.Flags.Seen(),
		Deleted:      msg.Flags.Deleted(),
		Size:         msg.Size,
		InternalDate: msg.InternalDate,
		ContentRef:   msg.ContentRef,
	}
}

func (d *messageDoc) flags() store.Flags {
	out := make([]imap.Flag, len(d.Flags))
	for i, s := range d.Flags {
		out[i] = imap.Flag(s)
	}
	return store.NewFlags(out...)
}

func (d *messageDoc) toMessage(mailbox *store.Mailbox) *store.Message {
	return &store.Message{
		MailboxID:    mailbox.ID,
		UID:          imap.UID(d.UID),
		ModSeq:       uint64(d.ModSeq),
		Flags:        d.flags(),
		Size:         d.Size,
		InternalDate: d.InternalDate.UTC(),
		ContentRef:   d.ContentRef,
	}
}

// flagFields returns the $set document for a new flag set at modseq.
func flagFields(f store.Flags, modseq uint64) bson.M {
	return bson.M{
		"flags":   f.Strings(),
		"seen":    f.Seen(),
		"deleted": f.Deleted(),
		"modseq":  int64(modseq),
	}
}

// parseID validates a mailbox id.
func parseID(id store.MailboxID) (string, error) {
	if id == nil {
		return "", store.ErrMailboxNotFound
	}
	if _, err := uuid.Parse(id.String()); err != nil {
		return "", store.ErrInvalidID
	}
	return id.String(), nil
}

// canonicalName stores INBOX in one spelling so the unique index covers
// every case variant.
func canonicalName(p store.MailboxPath) string {
	if p.IsInbox() {
		return "INBOX"
	}
	return p.Name
}

// uidFilter renders uids as a filter on the uid field. A bare "*" selects
// last, the highest UID present in the mailbox; n:* selects every UID from
// n up. It reports false for a set that can match nothing.
func uidFilter(uids imap.UIDSet, last imap.UID) (bson.M, bool) {
	var parts bson.A
	for _, r := range uids {
		start, stop := r.Start, r.Stop
		switch {
		case start == 0 && stop == 0:
			if last == 0 {
				continue
			}
			parts = append(parts, bson.M{"uid": int64(last)})
		case start == 0 || stop == 0:
			parts = append(parts, bson.M{"uid": bson.M{"$gte": int64(max(start, stop))}})
		case start == stop:
			parts = append(parts, bson.M{"uid": int64(start)})
		default:
			lo, hi := min(start, stop), max(start, stop)
			parts = append(parts, bson.M{"uid": bson.M{"$gte": int64(lo), "$lte": int64(hi)}})
		}
	}
	switch len(parts) {
	case 0:
		return nil, false
	case 1:
		return parts[0].(bson.M), true
	}
	return bson.M{"$or": parts}, true
}

// toAnnotations returns the entries matching keys, or all when keys is
// empty, ordered by key.
func toAnnotations(docs []annotationDoc, keys []string) []store.Annotation {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []store.Annotation
	for _, d := range docs {
		if d.Value == "" || (len(keys) > 0 && !want[d.Key]) {
			continue
		}
		out = append(out, store.Annotation{Key: d.Key, Value: d.Value})
	}
	slices.SortFunc(out, func(a, b store.Annotation) int {
		return strings.Compare(a.Key, b.Key)
	})
	return out
}
