// Package memory provides an in-memory SessionMapperFactory for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// Store implements store.SessionMapperFactory with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu            sync.RWMutex
	mailboxes     map[string]*mailboxState // by mailbox id
	paths         map[string]string        // path key -> mailbox id
	subscriptions map[string]map[string]struct{}
	attachments   map[string]*store.Attachment

	opts        *options
	connected   int32
	uidValidity atomic.Uint32
}

// mailboxState holds one mailbox and its messages. The mutex serializes
// mutations of the mailbox so that UID order matches insertion order.
type mailboxState struct {
	mu          sync.Mutex
	mailbox     *store.Mailbox
	messages    map[imap.UID]*store.Message
	annotations map[string]string
}

var (
	_ store.SessionMapperFactory = (*Store)(nil)
	_ store.Connector            = (*Store)(nil)
)

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		mailboxes:     make(map[string]*mailboxState),
		paths:         make(map[string]string),
		subscriptions: make(map[string]map[string]struct{}),
		attachments:   make(map[string]*store.Attachment),
		opts:          newOptions(opts...),
	}
	s.uidValidity.Store(uint32(time.Now().Unix()))
	return s
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return fmt.Errorf("%w: %w", store.ErrBackendUnavailable, store.ErrNotConnected)
	}
	return nil
}

// Capabilities reports subscriptions always, annotations unless disabled,
// and attachments when a blob store is configured.
func (s *Store) Capabilities() store.Capability {
	c := store.CapSubscriptions
	if s.opts.annotations {
		c |= store.CapAnnotations
	}
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
	if !s.opts.annotations {
		return store.UnsupportedAnnotations{}, nil
	}
	return &annotationMapper{store: s}, nil
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

// pathKey normalizes a path for lookups. INBOX is case-insensitive.
func pathKey(p store.MailboxPath) string {
	name := p.Name
	if p.IsInbox() {
		name = "INBOX"
	}
	return p.Namespace + "\x00" + p.User + "\x00" + name
}

// state returns the live state of mailbox.
func (s *Store) state(mailbox *store.Mailbox) (*mailboxState, error) {
	if mailbox == nil || mailbox.ID == nil {
		return nil, store.ErrMailboxNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.mailboxes[mailbox.ID.String()]
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	return st, nil
}

func (s *Store) nextUIDValidity() uint32 {
	return s.uidValidity.Add(1)
}
