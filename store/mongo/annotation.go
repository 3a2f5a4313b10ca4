package mongo

import (
	"context"
	"errors"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// annotationMapper keeps annotations as a key/value array on the mailbox
// document.
type annotationMapper struct {
	store *Store
}

func (m *annotationMapper) Annotations(ctx context.Context, mailbox *store.Mailbox, keys ...string) ([]store.Annotation, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	var doc mailboxDoc
	opts := mongoopts.FindOne().SetProjection(bson.M{"annotations": 1})
	err = m.store.mailboxes.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrMailboxNotFound
	}
	if err != nil {
		return nil, store.Persistence("get annotations", err)
	}
	return toAnnotations(doc.Annotations, keys), nil
}

// SetAnnotations replaces each entry with a pull followed by a push.
func (m *annotationMapper) SetAnnotations(ctx context.Context, mailbox *store.Mailbox, annotations ...store.Annotation) error {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	for _, a := range annotations {
		res, err := m.store.mailboxes.UpdateOne(ctx, bson.M{"_id": id},
			bson.M{"$pull": bson.M{"annotations": bson.M{"key": a.Key}}})
		if err != nil {
			return store.Persistence("set annotations", err)
		}
		if res.MatchedCount == 0 {
			return store.ErrMailboxNotFound
		}
		if a.Value == "" {
			continue
		}
		_, err = m.store.mailboxes.UpdateOne(ctx, bson.M{"_id": id},
			bson.M{"$push": bson.M{"annotations": annotationDoc{Key: a.Key, Value: a.Value}}})
		if err != nil {
			return store.Persistence("set annotations", err)
		}
	}
	return nil
}

var _ store.AnnotationMapper = (*annotationMapper)(nil)
