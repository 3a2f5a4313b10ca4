package memory

import (
	"context"
	"slices"

	"github.com/rbaliyan/mailstore/store"
)

type subscriptionMapper struct {
	store *Store
}

func (m *subscriptionMapper) Subscribe(_ context.Context, user, mailbox string) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.subscriptions[user]
	if !ok {
		subs = make(map[string]struct{})
		s.subscriptions[user] = subs
	}
	subs[mailbox] = struct{}{}
	return nil
}

func (m *subscriptionMapper) Unsubscribe(_ context.Context, user, mailbox string) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions[user], mailbox)
	return nil
}

func (m *subscriptionMapper) Subscriptions(_ context.Context, user string) ([]string, error) {
	s := m.store
	s.mu.RLock()
	out := make([]string, 0, len(s.subscriptions[user]))
	for name := range s.subscriptions[user] {
		out = append(out, name)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out, nil
}

var _ store.SubscriptionMapper = (*subscriptionMapper)(nil)
