package mongo

import (
	"context"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

type subscriptionMapper struct {
	store *Store
}

type subscriptionDoc struct {
	User    string `bson:"user"`
	Mailbox string `bson:"mailbox"`
}

func (m *subscriptionMapper) Subscribe(ctx context.Context, user, mailbox string) error {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	doc := subscriptionDoc{User: user, Mailbox: mailbox}
	_, err := m.store.subscriptions.UpdateOne(ctx, doc,
		bson.M{"$set": doc}, mongoopts.UpdateOne().SetUpsert(true))
	return store.Persistence("subscribe", err)
}

func (m *subscriptionMapper) Unsubscribe(ctx context.Context, user, mailbox string) error {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	_, err := m.store.subscriptions.DeleteOne(ctx, subscriptionDoc{User: user, Mailbox: mailbox})
	return store.Persistence("unsubscribe", err)
}

func (m *subscriptionMapper) Subscriptions(ctx context.Context, user string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	opts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "mailbox", Value: 1}})
	cursor, err := m.store.subscriptions.Find(ctx, bson.M{"user": user}, opts)
	if err != nil {
		return nil, store.Persistence("list subscriptions", err)
	}
	var docs []subscriptionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, store.Persistence("list subscriptions", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Mailbox
	}
	return out, nil
}

var _ store.SubscriptionMapper = (*subscriptionMapper)(nil)
