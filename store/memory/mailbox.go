package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

type mailboxMapper struct {
	store   *Store
	session *store.Session
}

func (m *mailboxMapper) FindMailboxByPath(_ context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	s := m.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.paths[pathKey(path)]
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	return s.mailboxes[id].mailbox.Clone(), nil
}

func (m *mailboxMapper) FindMailboxByID(_ context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if id == nil {
		return nil, store.ErrInvalidID
	}
	s := m.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.mailboxes[id.String()]
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	return st.mailbox.Clone(), nil
}

func (m *mailboxMapper) List(_ context.Context, namespace, user string) ([]*store.Mailbox, error) {
	s := m.store
	s.mu.RLock()
	var out []*store.Mailbox
	for _, st := range s.mailboxes {
		if st.mailbox.Path.Namespace == namespace && st.mailbox.Path.User == user {
			out = append(out, st.mailbox.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *store.Mailbox) int {
		return strings.Compare(a.Path.Name, b.Path.Name)
	})
	return out, nil
}

func (m *mailboxMapper) Save(_ context.Context, mailbox *store.Mailbox) (*store.Mailbox, error) {
	if err := mailbox.Path.Validate(); err != nil {
		return nil, err
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pathKey(mailbox.Path)
	if _, ok := s.paths[key]; ok {
		return nil, store.ErrMailboxExists
	}

	saved := mailbox.Clone()
	if saved.ID == nil {
		saved.ID = store.NewID()
	}
	if saved.UIDValidity == 0 {
		saved.UIDValidity = s.nextUIDValidity()
	}
	s.mailboxes[saved.ID.String()] = &mailboxState{
		mailbox:     saved,
		messages:    make(map[imap.UID]*store.Message),
		annotations: make(map[string]string),
	}
	s.paths[key] = saved.ID.String()
	s.opts.logger.Debug("mailbox created", "path", saved.Path.String(), "id", saved.ID.String())
	return saved.Clone(), nil
}

func (m *mailboxMapper) Rename(_ context.Context, mailbox *store.Mailbox, path store.MailboxPath) (*store.Mailbox, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.mailboxes[mailbox.Key()]
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	newKey := pathKey(path)
	if _, taken := s.paths[newKey]; taken {
		return nil, store.ErrMailboxExists
	}

	delete(s.paths, pathKey(st.mailbox.Path))
	st.mu.Lock()
	st.mailbox.Path = path
	renamed := st.mailbox.Clone()
	st.mu.Unlock()
	s.paths[newKey] = renamed.ID.String()
	return renamed, nil
}

func (m *mailboxMapper) Delete(ctx context.Context, mailbox *store.Mailbox) error {
	s := m.store
	s.mu.Lock()
	st, ok := s.mailboxes[mailbox.Key()]
	if !ok {
		s.mu.Unlock()
		return store.ErrMailboxNotFound
	}
	delete(s.mailboxes, mailbox.Key())
	delete(s.paths, pathKey(st.mailbox.Path))
	s.mu.Unlock()

	s.dropAttachments(ctx, mailbox.Key(), nil)
	return nil
}
