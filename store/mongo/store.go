// Package mongo provides a MongoDB implementation of
// store.SessionMapperFactory. Each mailbox document carries its own
// last_uid and highest_modseq counters, advanced with an atomic $inc, and
// flag updates are applied optimistically against the message's modseq.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	_ store.SessionMapperFactory = (*Store)(nil)
	_ store.Connector            = (*Store)(nil)
)

// Store implements store.SessionMapperFactory using MongoDB.
type Store struct {
	client        *mongo.Client
	mailboxes     *mongo.Collection
	messages      *mongo.Collection
	subscriptions *mongo.Collection
	opts          *options
	connected     int32
	logger        *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect pings the server and creates missing indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: mongo ping: %w", store.ErrBackendUnavailable, err)
	}

	db := s.client.Database(s.opts.database)
	s.mailboxes = db.Collection(s.opts.mailboxes)
	s.messages = db.Collection(s.opts.messages)
	s.subscriptions = db.Collection(s.opts.subscriptions)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database,
		"mailboxes", s.opts.mailboxes, "messages", s.opts.messages)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for disconnecting the MongoDB client.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := mongoopts.Index().SetUnique(true)

	_, err := s.mailboxes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "namespace", Value: 1},
				bson.E{Key: "user", Value: 1},
				bson.E{Key: "name", Value: 1},
			},
			Options: unique,
		},
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "mailbox_id", Value: 1},
				bson.E{Key: "uid", Value: 1},
			},
			Options: unique,
		},
		// First-unseen and unseen-count lookups
		{Keys: bson.D{
			bson.E{Key: "mailbox_id", Value: 1},
			bson.E{Key: "seen", Value: 1},
			bson.E{Key: "uid", Value: 1},
		}},
	})
	if err != nil {
		return err
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				bson.E{Key: "user", Value: 1},
				bson.E{Key: "mailbox", Value: 1},
			},
			Options: unique,
		},
	})
	return err
}

// checkConnected returns ErrBackendUnavailable if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return fmt.Errorf("%w: %w", store.ErrBackendUnavailable, store.ErrNotConnected)
	}
	return nil
}

// Capabilities reports subscriptions and annotations. Attachments are not
// supported.
func (s *Store) Capabilities() store.Capability {
	return store.CapSubscriptions | store.CapAnnotations
}

func (s *Store) MailboxMapper(_ context.Context, session *store.Session) (store.MailboxMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return &mailboxMapper{store: s, session: session}, nil
}

func (s *Store) MessageMapper(_ context.Context, session *store.Session) (store.MessageMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return &messageMapper{store: s, session: session}, nil
}

func (s *Store) SubscriptionMapper(_ context.Context, _ *store.Session) (store.SubscriptionMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return &subscriptionMapper{store: s}, nil
}

func (s *Store) AnnotationMapper(_ context.Context, _ *store.Session) (store.AnnotationMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return &annotationMapper{store: s}, nil
}

func (s *Store) AttachmentMapper(_ context.Context, _ *store.Session) (store.AttachmentMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return store.UnsupportedAttachments{}, nil
}
