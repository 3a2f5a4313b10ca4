package mailstore

import (
	"context"
)

// Subscribe adds the named mailbox to the user's subscriptions. The
// mailbox does not need to exist.
func (s *Session) Subscribe(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	mapper, err := s.subscriptionMapper(ctx)
	if err != nil {
		return err
	}
	return wrap(mapper.Subscribe(ctx, s.session.User, p.Name))
}

// Unsubscribe removes the named mailbox from the user's subscriptions.
func (s *Session) Unsubscribe(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	mapper, err := s.subscriptionMapper(ctx)
	if err != nil {
		return err
	}
	return wrap(mapper.Unsubscribe(ctx, s.session.User, p.Name))
}

// Subscriptions returns the user's subscribed mailbox names, sorted.
func (s *Session) Subscriptions(ctx context.Context) ([]string, error) {
	mapper, err := s.subscriptionMapper(ctx)
	if err != nil {
		return nil, err
	}
	names, err := mapper.Subscriptions(ctx, s.session.User)
	if err != nil {
		return nil, wrap(err)
	}
	return names, nil
}
