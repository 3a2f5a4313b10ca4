package postgres

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailstore/store"
)

type subscriptionMapper struct {
	store *Store
}

func (m *subscriptionMapper) Subscribe(ctx context.Context, user, mailbox string) error {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (user_name, mailbox) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		m.store.opts.subscriptionTable)
	_, err := m.store.db.ExecContext(ctx, query, user, mailbox)
	return store.Persistence("subscribe", err)
}

func (m *subscriptionMapper) Unsubscribe(ctx context.Context, user, mailbox string) error {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_name = $1 AND mailbox = $2`, m.store.opts.subscriptionTable)
	_, err := m.store.db.ExecContext(ctx, query, user, mailbox)
	return store.Persistence("unsubscribe", err)
}

func (m *subscriptionMapper) Subscriptions(ctx context.Context, user string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.store.opts.timeout)
	defer cancel()
	query := fmt.Sprintf(`SELECT mailbox FROM %s WHERE user_name = $1 ORDER BY mailbox`, m.store.opts.subscriptionTable)
	out := []string{}
	if err := m.store.db.SelectContext(ctx, &out, query, user); err != nil {
		return nil, store.Persistence("list subscriptions", err)
	}
	return out, nil
}

var _ store.SubscriptionMapper = (*subscriptionMapper)(nil)
