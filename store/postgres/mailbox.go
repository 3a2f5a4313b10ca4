package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/mailstore/store"
)

type mailboxRow struct {
	ID          string `db:"id"`
	Namespace   string `db:"namespace"`
	User        string `db:"user_name"`
	Name        string `db:"name"`
	UIDValidity int64  `db:"uid_validity"`
}

func (r mailboxRow) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:          store.ID(r.ID),
		Path:        store.MailboxPath{Namespace: r.Namespace, User: r.User, Name: r.Name},
		UIDValidity: uint32(r.UIDValidity),
	}
}

const mailboxColumns = "id, namespace, user_name, name, uid_validity"

type mailboxMapper struct {
	store   *Store
	session *store.Session
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

func (m *mailboxMapper) FindMailboxByPath(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = $1 AND user_name = $2 AND name = $3`,
		mailboxColumns, m.store.opts.mailboxTable)
	var row mailboxRow
	err := m.store.db.GetContext(ctx, &row, query, path.Namespace, path.User, canonicalName(path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrMailboxNotFound
	}
	if err != nil {
		return nil, store.Persistence("find mailbox", err)
	}
	return row.toMailbox(), nil
}

func (m *mailboxMapper) FindMailboxByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return m.store.findByID(ctx, m.store.db, key)
}

func (s *Store) findByID(ctx context.Context, q sqlx.QueryerContext, id string) (*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, mailboxColumns, s.opts.mailboxTable)
	var row mailboxRow
	err := sqlx.GetContext(ctx, q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrMailboxNotFound
	}
	if err != nil {
		return nil, store.Persistence("find mailbox", err)
	}
	return row.toMailbox(), nil
}

func (m *mailboxMapper) List(ctx context.Context, namespace, user string) ([]*store.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = $1 AND user_name = $2 ORDER BY name`,
		mailboxColumns, m.store.opts.mailboxTable)
	var rows []mailboxRow
	if err := m.store.db.SelectContext(ctx, &rows, query, namespace, user); err != nil {
		return nil, store.Persistence("list mailboxes", err)
	}
	out := make([]*store.Mailbox, len(rows))
	for i, r := range rows {
		out[i] = r.toMailbox()
	}
	return out, nil
}

func (m *mailboxMapper) Save(ctx context.Context, mailbox *store.Mailbox) (*store.Mailbox, error) {
	if err := mailbox.Path.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	row := mailboxRow{
		ID:          uuid.NewString(),
		Namespace:   mailbox.Path.Namespace,
		User:        mailbox.Path.User,
		Name:        canonicalName(mailbox.Path),
		UIDValidity: int64(uint32(time.Now().UnixNano())) | 1,
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, user_name, name, uid_validity)
		VALUES (:id, :namespace, :user_name, :name, :uid_validity)
	`, m.store.opts.mailboxTable)
	if _, err := m.store.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrMailboxExists
		}
		return nil, store.Persistence("create mailbox", err)
	}
	m.store.logger.Debug("mailbox created", "id", row.ID, "path", mailbox.Path.String())
	return row.toMailbox(), nil
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

	query := fmt.Sprintf(`
		UPDATE %s SET namespace = $1, user_name = $2, name = $3
		WHERE id = $4
		RETURNING %s
	`, m.store.opts.mailboxTable, mailboxColumns)
	var row mailboxRow
	err = m.store.db.GetContext(ctx, &row, query, path.Namespace, path.User, canonicalName(path), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, store.ErrMailboxNotFound
	case isUniqueViolation(err):
		return nil, store.ErrMailboxExists
	case err != nil:
		return nil, store.Persistence("rename mailbox", err)
	}
	return row.toMailbox(), nil
}

// Delete removes the mailbox; messages cascade. Attachment content is
// deleted from the blob store after the commit.
func (m *mailboxMapper) Delete(ctx context.Context, mailbox *store.Mailbox) error {
	id, err := parseID(mailbox.ID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()

	var uris []string
	err = m.store.withTx(ctx, func(tx *sqlx.Tx) error {
		q := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 RETURNING uri`, m.store.opts.attachmentTable)
		if err := tx.SelectContext(ctx, &uris, q, id); err != nil {
			return store.Persistence("delete attachments", err)
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, m.store.opts.mailboxTable), id)
		if err != nil {
			return store.Persistence("delete mailbox", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrMailboxNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.store.deleteBlobs(ctx, uris)
	return nil
}
