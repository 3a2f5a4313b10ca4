// Package mongo provides UID and mod-sequence providers stored as counter
// documents in a MongoDB collection, advanced with an atomic $inc upsert.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Default configuration values.
const (
	DefaultCollection = "mailbox_sequences"
	DefaultTimeout    = 10 * time.Second
)

type config struct {
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Provider.
type Option func(*config)

// WithCollection sets the counter collection name.
func WithCollection(name string) Option {
	return func(c *config) {
		if name != "" {
			c.collection = name
		}
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// counterDoc is one counter. The id is "<kind>:<mailbox id>".
type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

// Provider implements store.UIDProvider and store.ModSeqProvider.
type Provider struct {
	coll *mongo.Collection
	cfg  *config
}

var (
	_ store.UIDProvider    = (*Provider)(nil)
	_ store.ModSeqProvider = (*Provider)(nil)
)

// New creates a provider storing counters in db.
func New(db *mongo.Database, opts ...Option) *Provider {
	c := &config{
		collection: DefaultCollection,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Provider{coll: db.Collection(c.collection), cfg: c}
}

func counterID(kind string, mailbox *store.Mailbox) string {
	return kind + ":" + mailbox.Key()
}

func (p *Provider) incr(ctx context.Context, kind string, mailbox *store.Mailbox) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
	defer cancel()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc counterDoc
	err := p.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": counterID(kind, mailbox)},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, store.Persistence("increment "+kind, err)
	}
	return uint64(doc.Value), nil
}

func (p *Provider) get(ctx context.Context, kind string, mailbox *store.Mailbox) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
	defer cancel()

	var doc counterDoc
	err := p.coll.FindOne(ctx, bson.M{"_id": counterID(kind, mailbox)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, store.Persistence("read "+kind, err)
	}
	return uint64(doc.Value), nil
}

func (p *Provider) NextUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.incr(ctx, "uid", mailbox)
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: uid space exhausted for %s", store.ErrPersistence, mailbox.Path)
	}
	p.cfg.logger.Debug("allocated uid", "mailbox", mailbox.Key(), "uid", v)
	return imap.UID(v), nil
}

func (p *Provider) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := p.get(ctx, "uid", mailbox)
	return imap.UID(v), err
}

func (p *Provider) NextModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.incr(ctx, "modseq", mailbox)
}

func (p *Provider) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return p.get(ctx, "modseq", mailbox)
}
