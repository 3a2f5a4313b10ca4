// Package postgres provides a PostgreSQL implementation of
// store.SessionMapperFactory. UID and mod-sequence counters live in the
// mailbox row and are advanced with UPDATE ... RETURNING inside the same
// transaction as the message write, so the row lock serializes mutations
// of one mailbox.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailstore/store"
)

var (
	_ store.SessionMapperFactory = (*Store)(nil)
	_ store.Connector            = (*Store)(nil)
)

// Store implements store.SessionMapperFactory using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect pings the database and creates missing tables.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: postgres ping: %w", store.ErrBackendUnavailable, err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "mailboxes", s.opts.mailboxTable, "messages", s.opts.messageTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	o := s.opts
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				namespace TEXT NOT NULL,
				user_name TEXT NOT NULL,
				name TEXT NOT NULL,
				uid_validity BIGINT NOT NULL,
				last_uid BIGINT NOT NULL DEFAULT 0,
				highest_modseq BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE (namespace, user_name, name)
			)`, o.mailboxTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				mailbox_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
				uid BIGINT NOT NULL,
				modseq BIGINT NOT NULL,
				flags TEXT[] NOT NULL DEFAULT '{}',
				seen BOOLEAN NOT NULL DEFAULT FALSE,
				deleted BOOLEAN NOT NULL DEFAULT FALSE,
				size BIGINT NOT NULL DEFAULT 0,
				internal_date TIMESTAMPTZ NOT NULL,
				content_ref TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (mailbox_id, uid)
			)`, o.messageTable, o.mailboxTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				user_name TEXT NOT NULL,
				mailbox TEXT NOT NULL,
				PRIMARY KEY (user_name, mailbox)
			)`, o.subscriptionTable),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY,
				mailbox_id UUID NOT NULL,
				uid BIGINT NOT NULL,
				filename TEXT NOT NULL,
				content_type TEXT NOT NULL,
				size BIGINT NOT NULL,
				uri TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, o.attachmentTable),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_unseen ON %s(mailbox_id, uid) WHERE NOT seen`, o.messageTable, o.messageTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_message ON %s(mailbox_id, uid)`, o.attachmentTable, o.attachmentTable),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}
	return nil
}

// checkConnected returns ErrBackendUnavailable if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return fmt.Errorf("%w: %w", store.ErrBackendUnavailable, store.ErrNotConnected)
	}
	return nil
}

// Capabilities reports subscriptions, and attachments when a blob store is
// configured. Annotations are not supported.
func (s *Store) Capabilities() store.Capability {
	c := store.CapSubscriptions
	if s.opts.blobs != nil {
		c |= store.CapAttachments
	}
	return c
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
	return store.UnsupportedAnnotations{}, nil
}

func (s *Store) AttachmentMapper(_ context.Context, _ *store.Session) (store.AttachmentMapper, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if s.opts.blobs == nil {
		return store.UnsupportedAttachments{}, nil
	}
	return &attachmentMapper{store: s}, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return store.Persistence("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return store.Persistence("commit", err)
	}
	return nil
}

// isUniqueViolation reports a PostgreSQL unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
