package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailstore/store"
)

type messageRow struct {
	UID          int64          `db:"uid"`
	ModSeq       int64          `db:"modseq"`
	Flags        pq.StringArray `db:"flags"`
	Size         int64          `db:"size"`
	InternalDate time.Time      `db:"internal_date"`
	ContentRef   string         `db:"content_ref"`
}

func (r messageRow) toMessage(mailbox *store.Mailbox) *store.Message {
	return &store.Message{
		MailboxID:    mailbox.ID,
		UID:          imap.UID(r.UID),
		ModSeq:       uint64(r.ModSeq),
		Flags:        flagsFromColumn(r.Flags),
		Size:         r.Size,
		InternalDate: r.InternalDate,
		ContentRef:   r.ContentRef,
	}
}

const messageColumns = "uid, modseq, flags, size, internal_date, content_ref"

type messageMapper struct {
	store   *Store
	session *store.Session
}

// lastUIDExpr is the highest UID currently stored in mailbox $1.
func (m *messageMapper) lastUIDExpr() string {
	return fmt.Sprintf("(SELECT MAX(uid) FROM %s WHERE mailbox_id = $1)", m.store.opts.messageTable)
}

func (m *messageMapper) scalar(ctx context.Context, mailbox *store.Mailbox, op, query string) (int64, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	var n int64
	if err := m.store.db.GetContext(ctx, &n, query, id); err != nil {
		return 0, store.Persistence(op, err)
	}
	return n, nil
}

func (m *messageMapper) CountMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.scalar(ctx, mailbox, "count messages",
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE mailbox_id = $1`, m.store.opts.messageTable))
}

func (m *messageMapper) CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox) (int64, error) {
	return m.scalar(ctx, mailbox, "count unseen",
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE mailbox_id = $1 AND NOT seen`, m.store.opts.messageTable))
}

func (m *messageMapper) FindFirstUnseenMessageUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	n, err := m.scalar(ctx, mailbox, "first unseen",
		fmt.Sprintf(`SELECT COALESCE(MIN(uid), 0) FROM %s WHERE mailbox_id = $1 AND NOT seen`, m.store.opts.messageTable))
	return imap.UID(n), err
}

func (m *messageMapper) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	return m.store.Sequences().LastUID(ctx, mailbox)
}

func (m *messageMapper) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	return m.store.Sequences().HighestModSeq(ctx, mailbox)
}

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
	flags, seen, deleted := flagColumns(saved.Flags)

	err = m.store.withTx(ctx, func(tx *sqlx.Tx) error {
		uid, modseq, err := m.store.advance(ctx, tx, id, true)
		if err != nil {
			return err
		}
		saved.UID, saved.ModSeq = uid, modseq
		query := fmt.Sprintf(`
			INSERT INTO %s (mailbox_id, uid, modseq, flags, seen, deleted, size, internal_date, content_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, m.store.opts.messageTable)
		_, err = tx.ExecContext(ctx, query, id, int64(uid), int64(modseq), pq.Array(flags), seen, deleted,
			saved.Size, saved.InternalDate, saved.ContentRef)
		if err != nil {
			return store.Persistence("insert message", err)
		}
		return nil
	})
	if err != nil {
		return store.MessageMetaData{}, err
	}
	return saved.MetaData(), nil
}

// selectForUpdate locks the rows of mailbox id matching uids, ascending.
func (m *messageMapper) selectForUpdate(ctx context.Context, tx *sqlx.Tx, id string, uids imap.UIDSet) ([]messageRow, error) {
	clause, args := uidSetClause(uids, 2, m.lastUIDExpr())
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND %s ORDER BY uid FOR UPDATE`,
		messageColumns, m.store.opts.messageTable, clause)
	var rows []messageRow
	if err := tx.SelectContext(ctx, &rows, query, append([]any{id}, args...)...); err != nil {
		return nil, store.Persistence("select messages", err)
	}
	return rows, nil
}

func (m *messageMapper) UpdateFlags(ctx context.Context, mailbox *store.Mailbox, uids imap.UIDSet, op imap.StoreFlags) (*store.FlagUpdateResult, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	var result *store.FlagUpdateResult
	err = m.store.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.store.lockMailbox(ctx, tx, id); err != nil {
			return err
		}
		rows, err := m.selectForUpdate(ctx, tx, id, uids)
		if err != nil {
			return err
		}
		result = &store.FlagUpdateResult{Failed: make(map[imap.UID]error)}
		if nums, ok := uids.Nums(); ok {
			found := make(map[imap.UID]bool, len(rows))
			for _, r := range rows {
				found[imap.UID(r.UID)] = true
			}
			for _, uid := range nums {
				if !found[uid] {
					result.Failed[uid] = &store.UIDError{UID: uid, Err: store.ErrConcurrentModification}
				}
			}
		}

		var changed []int
		next := make([]store.Flags, len(rows))
		for i, r := range rows {
			old := flagsFromColumn(r.Flags)
			next[i] = old.Apply(op)
			if !next[i].Equal(old) {
				changed = append(changed, i)
			}
		}

		var modseq uint64
		if len(changed) > 0 {
			if _, modseq, err = m.store.advance(ctx, tx, id, false); err != nil {
				return err
			}
		}
		update := fmt.Sprintf(`UPDATE %s SET flags = $1, seen = $2, deleted = $3, modseq = $4 WHERE mailbox_id = $5 AND uid = $6`,
			m.store.opts.messageTable)
		for _, i := range changed {
			flags, seen, deleted := flagColumns(next[i])
			if _, err := tx.ExecContext(ctx, update, pq.Array(flags), seen, deleted, int64(modseq), id, rows[i].UID); err != nil {
				return store.Persistence("update flags", err)
			}
			rows[i].ModSeq = int64(modseq)
		}

		for i, r := range rows {
			result.Updated = append(result.Updated, store.UpdatedFlags{
				UID:      imap.UID(r.UID),
				ModSeq:   uint64(rows[i].ModSeq),
				OldFlags: flagsFromColumn(r.Flags),
				NewFlags: next[i],
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
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

	var expunged []store.MessageMetaData
	var uris []string
	err = m.store.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.store.lockMailbox(ctx, tx, id); err != nil {
			return err
		}
		rows, err := m.selectForUpdate(ctx, tx, id, uids)
		if err != nil {
			return err
		}
		var selected []int64
		for _, r := range rows {
			msg := r.toMessage(mailbox)
			if criteria.DeletedOnly && !msg.Flags.Deleted() {
				continue
			}
			selected = append(selected, r.UID)
			expunged = append(expunged, msg.MetaData())
		}
		if len(selected) == 0 {
			return nil
		}
		if _, _, err := m.store.advance(ctx, tx, id, false); err != nil {
			return err
		}
		del := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 AND uid = ANY($2)`, m.store.opts.messageTable)
		if _, err := tx.ExecContext(ctx, del, id, pq.Array(selected)); err != nil {
			return store.Persistence("expunge", err)
		}
		delAtt := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 AND uid = ANY($2) RETURNING uri`, m.store.opts.attachmentTable)
		if err := tx.SelectContext(ctx, &uris, delAtt, id, pq.Array(selected)); err != nil {
			return store.Persistence("expunge attachments", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.store.deleteBlobs(ctx, uris)
	return expunged, nil
}

// FindInMailbox pages through the selection by UID so large mailboxes are
// not read in one round trip.
func (m *messageMapper) FindInMailbox(ctx context.Context, mailbox *store.Mailbox, uids imap.UIDSet, order store.Order) ([]*store.Message, error) {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	clause, args := uidSetClause(uids, 3, m.lastUIDExpr())
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid > $2 AND %s ORDER BY uid LIMIT %d`,
		messageColumns, m.store.opts.messageTable, clause, m.store.opts.pageSize)

	var out []*store.Message
	var after int64
	for {
		var rows []messageRow
		if err := m.store.db.SelectContext(ctx, &rows, query, append([]any{id, after}, args...)...); err != nil {
			return nil, store.Persistence("find messages", err)
		}
		for _, r := range rows {
			out = append(out, r.toMessage(mailbox))
		}
		if len(rows) < m.store.opts.pageSize {
			break
		}
		after = rows[len(rows)-1].UID
	}
	store.SortByUID(out, order)
	return out, nil
}
