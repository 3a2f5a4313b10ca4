package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mailboxMapper struct {
	store   *Store
	session *store.Session
}

// mailboxProjection leaves out annotations.
var mailboxProjection = bson.M{"annotations": 0}

func (m *mailboxMapper) findOne(ctx context.Context, filter bson.M) (*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	err := m.store.mailboxes.FindOne(ctx, filter, mongoopts.FindOne().SetProjection(mailboxProjection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrMailboxNotFound
	}
	if err != nil {
		return nil, store.Persistence("find mailbox", err)
	}
	return doc.toMailbox(), nil
}

func (m *mailboxMapper) FindMailboxByPath(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	return m.findOne(ctx, bson.M{
		"namespace": path.Namespace,
		"user":      path.User,
		"name":      canonicalName(path),
	})
}

func (m *mailboxMapper) FindMailboxByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return m.findOne(ctx, bson.M{"_id": key})
}

func (m *mailboxMapper) List(ctx context.Context, namespace, user string) ([]*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	opts := mongoopts.Find().
		SetSort(bson.D{bson.E{Key: "name", Value: 1}}).
		SetProjection(mailboxProjection)
	cursor, err := m.store.mailboxes.Find(ctx, bson.M{"namespace": namespace, "user": user}, opts)
	if err != nil {
		return nil, store.Persistence("list mailboxes", err)
	}
	var docs []mailboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Persistence("list mailboxes", err)
	}
	out := make([]*store.Mailbox, len(docs))
	for i := range docs {
		out[i] = docs[i].toMailbox()
	}
	return out, nil
}

func (m *mailboxMapper) Save(ctx context.Context, mailbox *store.Mailbox) (*store.Mailbox, error) {
	if err := mailbox.Path.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	doc := &mailboxDoc{
		ID:          uuid.NewString(),
		Namespace:   mailbox.Path.Namespace,
		User:        mailbox.Path.User,
		Name:        canonicalName(mailbox.Path),
		UIDValidity: int64(uint32(time.Now().UnixNano()) | 1),
	}
	if _, err := m.store.mailboxes.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrMailboxExists
		}
		return nil, store.Persistence("create mailbox", err)
	}
	m.store.logger.Debug("mailbox created", "id", doc.ID, "path", mailbox.Path.String())
	return doc.toMailbox(), nil
}

func (m *mailboxMapper) Rename(ctx context.Context, mailbox *store.Mailbox, path store.MailboxPath) (*store.Mailbox, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOneAndUpdate().
		SetReturnDocument(mongoopts.After).
		SetProjection(mailboxProjection)
	update := bson.M{"$set": bson.M{
		"namespace": path.Namespace,
		"user":      path.User,
		"name":      canonicalName(path),
	}}
	var doc mailboxDoc
	err = m.store.mailboxes.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, store.ErrMailboxNotFound
	case mongo.IsDuplicateKeyError(err):
		return nil, store.ErrMailboxExists
	case err != nil:
		return nil, store.Persistence("rename mailbox", err)
	}
	return doc.toMailbox(), nil
}

// Delete removes the mailbox document, then its messages.
func (m *mailboxMapper) Delete(ctx context.Context, mailbox *store.Mailbox) error {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	res, err := m.store.mailboxes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return store.Persistence("delete mailbox", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrMailboxNotFound
	}
	msgs, err := m.store.messages.DeleteMany(ctx, bson.M{"mailbox_id": id})
	if err != nil {
		return store.Persistence("delete messages", err)
	}
	m.store.logger.Debug("mailbox deleted", "id", id, "messages", msgs.DeletedCount)
	return nil
}

// advance increments the counters of mailbox id and returns the new values.
// uid selects whether last_uid is advanced along with highest_modseq.
func (s *Store) advance(ctx context.Context, id string, uid bool) (int64, int64, error) {
	inc := bson.M{"highest_modseq": int64(1)}
	if uid {
		inc["last_uid"] = int64(1)
	}
	opts := mongoopts.FindOneAndUpdate().
		SetReturnDocument(mongoopts.After).
		SetProjection(bson.M{"last_uid": 1, "highest_modseq": 1})

	var doc mailboxDoc
	err := s.mailboxes.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$inc": inc}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, 0, store.ErrMailboxNotFound
	}
	if err != nil {
		return 0, 0, store.Persistence("advance counters", err)
	}
	return doc.LastUID, doc.HighestModSeq, nil
}

// counters reads the current counters of mailbox id.
func (s *Store) counters(ctx context.Context, id string) (*mailboxDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	opts := mongoopts.FindOne().SetProjection(bson.M{"last_uid": 1, "highest_modseq": 1})
	err := s.mailboxes.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrMailboxNotFound
	}
	if err != nil {
		return nil, store.Persistence("read counters", err)
	}
	return &doc, nil
}
