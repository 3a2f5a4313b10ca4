package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/emersion/go-imap/v2"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/mailstore/store"
)

// Sequences exposes the counters kept in the mailbox rows as standalone
// providers, for callers that allocate outside a message write.
type Sequences struct {
	store *Store
}

var (
	_ store.UIDProvider    = (*Sequences)(nil)
	_ store.ModSeqProvider = (*Sequences)(nil)
)

// Sequences returns the providers backed by this store.
func (s *Store) Sequences() *Sequences {
	return &Sequences{store: s}
}

// lockMailbox takes the row lock of mailbox id for the rest of tx.
func (s *Store) lockMailbox(ctx context.Context, tx *sqlx.Tx, id string) error {
	var got string
	err := tx.GetContext(ctx, &got, fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, s.opts.mailboxTable), id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrMailboxNotFound
	}
	return store.Persistence("lock mailbox", err)
}

// advance bumps the modseq of mailbox id, and the UID too when uid is true,
// returning the new values.
func (s *Store) advance(ctx context.Context, q sqlx.QueryerContext, id string, uid bool) (imap.UID, uint64, error) {
	set := "highest_modseq = highest_modseq + 1"
	if uid {
		set = "last_uid = last_uid + 1, " + set
	}
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1 RETURNING last_uid, highest_modseq`, s.opts.mailboxTable, set)
	var row struct {
		LastUID       int64 `db:"last_uid"`
		HighestModSeq int64 `db:"highest_modseq"`
	}
	err := sqlx.GetContext(ctx, q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrMailboxNotFound
	}
	if err != nil {
		return 0, 0, store.Persistence("advance counters", err)
	}
	if row.LastUID > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: uid space exhausted for mailbox %s", store.ErrPersistence, id)
	}
	return imap.UID(row.LastUID), uint64(row.HighestModSeq), nil
}

func (q *Sequences) read(ctx context.Context, mailbox *store.Mailbox, column string) (int64, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.store.opts.timeout)
	defer cancel()
	var v int64
	err = q.store.db.GetContext(ctx, &v, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, column, q.store.opts.mailboxTable), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrMailboxNotFound
	}
	if err != nil {
		return 0, store.Persistence("read "+column, err)
	}
	return v, nil
}

func (q *Sequences) next(ctx context.Context, mailbox *store.Mailbox, uid bool) (imap.UID, uint64, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, q.store.opts.timeout)
	defer cancel()
	return q.store.advance(ctx, q.store.db, id, uid)
}

// NextUID advances both counters; a UID always comes with a fresh modseq.
func (q *Sequences) NextUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	uid, _, err := q.next(ctx, mailbox, true)
	return uid, err
}

func (q *Sequences) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	v, err := q.read(ctx, mailbox, "last_uid")
	return imap.UID(v), err
}

func (q *Sequences) NextModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	_, modseq, err := q.next(ctx, mailbox, false)
	return modseq, err
}

func (q *Sequences) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	v, err := q.read(ctx, mailbox, "highest_modseq")
	return uint64(v), err
}
