package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

type messageMapper struct {
	store   *Store
	session *store.Session
}

func (m *messageMapper) count(ctx context.Context, mailbox *store.Mailbox, op string, filter bson.M) (int64, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	filter["mailbox_id"] = id
	n, err := m.store.messages.CountDocuments(ctx, filter)
	if err != nil {
		return 0, store.Persistence(op, err)
	}
	return n, nil
}

func (m *messageMapper) CountMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.count(ctx, mailbox, "count messages", bson.M{})
}

func (m *messageMapper) CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.count(ctx, mailbox, "count unseen", bson.M{"seen": false})
}

func (m *messageMapper) FindFirstUnseenMessageUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOne().
		SetSort(bson.D{bson.E{Key: "uid", Value: 1}}).
		SetProjection(bson.M{"uid": 1})
	var doc messageDoc
	err = m.store.messages.FindOne(ctx, bson.M{"mailbox_id": id, "seen": false}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Persistence("first unseen", err)
	}
	return imap.UID(doc.UID), nil
}

func (m *messageMapper) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	doc, err := m.store.counters(ctx, id)
	if err != nil {
		return 0, err
	}
	return imap.UID(doc.LastUID), nil
}

func (m *messageMapper) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	doc, err := m.store.counters(ctx, id)
	if err != nil {
		return 0, err
	}
	return uint64(doc.HighestModSeq), nil
}

// Add allocates the UID and modseq before inserting, so a failed insert
// leaves a gap but never reissues a UID.
func (m *messageMapper) Add(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (store.MessageMetaData, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return store.MessageMetaData{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	saved := msg.Clone()
	saved.MailboxID = mailbox.ID
	if saved.InternalDate.IsZero() {
		saved.InternalDate = time.Now().UTC()
	}
	uid, modseq, err := m.store.advance(ctx, id, true)
	if err != nil {
		return store.MessageMetaData{}, err
	}
	saved.UID, saved.ModSeq = imap.UID(uid), uint64(modseq)

	if _, err := m.store.messages.InsertOne(ctx, newMessageDoc(id, saved)); err != nil {
		return store.MessageMetaData{}, store.Persistence("insert message", err)
	}
	return saved.MetaData(), nil
}

// find returns the documents of mailbox id matching uids, ascending by UID.
func (m *messageMapper) find(ctx context.Context, id string, uids imap.UIDSet) ([]messageDoc, error) {
	var last imap.UID
	if store.HasBareStar(uids) {
		opts := mongoopts.FindOne().
			SetSort(bson.D{bson.E{Key: "uid", Value: -1}}).
			SetProjection(bson.M{"uid": 1})
		var doc messageDoc
		err := m.store.messages.FindOne(ctx, bson.M{"mailbox_id": id}, opts).Decode(&doc)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
		case err != nil:
			return nil, store.Persistence("find last message", err)
		default:
			last = imap.UID(doc.UID)
		}
	}
	filter, ok := uidFilter(uids, last)
	if !ok {
		return nil, nil
	}
	filter = bson.M{"$and": bson.A{bson.M{"mailbox_id": id}, filter}}

	cursor, err := m.store.messages.Find(ctx, filter, mongoopts.Find().SetSort(bson.D{bson.E{Key: "uid", Value: 1}}))
	if err != nil {
		return nil, store.Persistence("find messages", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Persistence("find messages", err)
	}
	return docs, nil
}

// UpdateFlags writes each changed message conditioned on the modseq it was
// read at. A message changed or expunged in between is reported in Failed.
func (m *messageMapper) UpdateFlags(ctx context.Context, mailbox *store.Mailbox, uids imap.UIDSet, op imap.StoreFlags) (*store.FlagUpdateResult, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	docs, err := m.find(ctx, id, uids)
	if err != nil {
		return nil, err
	}
	result := &store.FlagUpdateResult{Failed: make(map[imap.UID]error)}
	if nums, ok := uids.Nums(); ok {
		found := make(map[imap.UID]bool, len(docs))
		for _, d := range docs {
			found[imap.UID(d.UID)] = true
		}
		for _, uid := range nums {
			if !found[uid] {
				result.Failed[uid] = &store.UIDError{UID: uid, Err: store.ErrConcurrentModification}
			}
		}
	}

	next := make([]store.Flags, len(docs))
	changed := false
	for i := range docs {
		old := docs[i].flags()
		next[i] = old.Apply(op)
		if !next[i].Equal(old) {
			changed = true
		}
	}
	var modseq uint64
	if changed {
		_, n, err := m.store.advance(ctx, id, false)
		if err != nil {
			return nil, err
		}
		modseq = uint64(n)
	}

	for i, d := range docs {
		old := d.flags()
		entry := store.UpdatedFlags{
			UID:      imap.UID(d.UID),
			ModSeq:   uint64(d.ModSeq),
			OldFlags: old,
			NewFlags: next[i],
		}
		if !next[i].Equal(old) {
			res, err := m.store.messages.UpdateOne(ctx,
				bson.M{"_id": d.ID, "modseq": d.ModSeq},
				bson.M{"$set": flagFields(next[i], modseq)})
			if err != nil {
				return nil, store.Persistence("update flags", err)
			}
			if res.MatchedCount == 0 {
				result.Failed[entry.UID] = &store.UIDError{UID: entry.UID, Err: store.ErrConcurrentModification}
				continue
			}
			entry.ModSeq = modseq
		}
		result.Updated = append(result.Updated, entry)
	}
	return result, nil
}

func (m *messageMapper) Expunge(ctx context.Context, mailbox *store.Mailbox, criteria store.ExpungeCriteria) ([]store.MessageMetaData, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	uids := criteria.UIDs
	if len(uids) == 0 {
		uids = store.AllUIDs()
	}
	docs, err := m.find(ctx, id, uids)
	if err != nil {
		return nil, err
	}

	var selected []messageDoc
	for i := range docs {
		if criteria.DeletedOnly && !docs[i].Deleted {
			continue
		}
		selected = append(selected, docs[i])
	}
	if len(selected) == 0 {
		return nil, nil
	}
	if _, _, err := m.store.advance(ctx, id, false); err != nil {
		return nil, err
	}
	deleted, err := deleteEach(ctx, selected, func(ctx context.Context, id bson.ObjectID) (int64, error) {
		res, err := m.store.messages.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			return 0, err
		}
		return res.DeletedCount, nil
	})
	if len(deleted) == 0 {
		return nil, err
	}
	if err != nil {
		// Report what is gone; the rest stays selectable for the next expunge.
		m.store.logger.Warn("expunge stopped early", "mailbox", id,
			"deleted", len(deleted), "selected", len(selected), "error", err)
	}
	expunged := make([]store.MessageMetaData, len(deleted))
	for i := range deleted {
		expunged[i] = deleted[i].toMessage(mailbox).MetaData()
	}
	return expunged, nil
}

// deleteEach removes docs one by one and returns those this call deleted.
// A document already removed by a concurrent expunge is left out, so only
// one caller reports it.
func deleteEach(ctx context.Context, docs []messageDoc, del func(context.Context, bson.ObjectID) (int64, error)) ([]messageDoc, error) {
	var out []messageDoc
	for i := range docs {
		n, err := del(ctx, docs[i].ID)
		if err != nil {
			return out, store.Persistence("expunge", err)
		}
		if n == 1 {
			out = append(out, docs[i])
		}
	}
	return out, nil
}

func (m *messageMapper) FindInMailbox(ctx context.Context, mailbox *store.Mailbox, uids imap.UIDSet, order store.Order) ([]*store.Message, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	docs, err := m.find(ctx, id, uids)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Message, len(docs))
	for i := range docs {
		out[i] = docs[i].toMessage(mailbox)
	}
	store.SortByUID(out, order)
	return out, nil
}
