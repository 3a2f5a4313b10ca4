package mailstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rbaliyan/mailstore/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Role is the well-known purpose of a mailbox, derived from its name.
type Role string

const (
	RoleNone    Role = ""
	RoleInbox   Role = "inbox"
	RoleArchive Role = "archive"
	RoleDrafts  Role = "drafts"
	RoleOutbox  Role = "outbox"
	RoleSent    Role = "sent"
	RoleTrash   Role = "trash"
	RoleSpam    Role = "spam"
)

var roles = map[string]Role{
	"inbox":   RoleInbox,
	"archive": RoleArchive,
	"drafts":  RoleDrafts,
	"outbox":  RoleOutbox,
	"sent":    RoleSent,
	"trash":   RoleTrash,
	"spam":    RoleSpam,
}

// RoleOf returns the role of a mailbox name. Names are matched
// case-insensitively; any other name has no role.
func RoleOf(name string) Role {
	return roles[strings.ToLower(name)]
}

// MailboxInfo is one entry of ListMailboxes.
type MailboxInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	UnreadMessages int64  `json:"unreadMessages"`
}

// Mailbox returns the named mailbox.
func (s *Session) Mailbox(ctx context.Context, name string) (*store.Mailbox, error) {
	return s.find(ctx, name)
}

// CreateMailbox creates the named mailbox together with any missing
// superior levels. A MailboxAdded event is published per created mailbox.
func (s *Session) CreateMailbox(ctx context.Context, name string) (created *store.Mailbox, err error) {
	ctx, end := s.m.otel.observe(ctx, opCreate, attribute.String("mailbox", name))
	defer func() { end(err) }()

	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := mm.FindMailboxByPath(ctx, p); err == nil {
		return nil, ErrMailboxExists
	} else if !errors.Is(err, store.ErrMailboxNotFound) {
		return nil, wrap(err)
	}
	if err := s.m.plugins.beforeCreate(ctx, s.session, p); err != nil {
		return nil, err
	}
	if err := s.createParents(ctx, mm, p); err != nil {
		return nil, err
	}
	return s.save(ctx, mm, p)
}

func (s *Session) save(ctx context.Context, mm store.MailboxMapper, p store.MailboxPath) (*store.Mailbox, error) {
	mb, err := mm.Save(ctx, &store.Mailbox{Path: p})
	if err != nil {
		return nil, wrap(err)
	}
	s.m.logger.Debug("mailbox created", "path", p.String(), "id", mb.Key())
	s.publish(ctx, s.m.events.MailboxAdded(s.session, mb))
	return mb, nil
}

// createParents creates the missing superior levels of p, outermost first.
func (s *Session) createParents(ctx context.Context, mm store.MailboxMapper, p store.MailboxPath) error {
	levels := strings.Split(p.Name, store.PathDelimiter)
	for i := 1; i < len(levels); i++ {
		parent := store.UserPath(p.User, strings.Join(levels[:i], store.PathDelimiter))
		parent.Namespace = p.Namespace
		_, err := mm.FindMailboxByPath(ctx, parent)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrMailboxNotFound) {
			return wrap(err)
		}
		// A concurrent create of the same parent is fine.
		if _, err := s.save(ctx, mm, parent); err != nil && !errors.Is(err, store.ErrMailboxExists) {
			return err
		}
	}
	return nil
}

// DeleteMailbox deletes the named mailbox and its messages. Inferior
// mailboxes are kept. INBOX cannot be deleted.
func (s *Session) DeleteMailbox(ctx context.Context, name string) (err error) {
	ctx, end := s.m.otel.observe(ctx, opDelete, attribute.String("mailbox", name))
	defer func() { end(err) }()

	if strings.EqualFold(name, "INBOX") {
		return ErrInboxImmutable
	}
	mb, err := s.find(ctx, name)
	if err != nil {
		return err
	}
	if err := s.m.plugins.beforeDelete(ctx, s.session, mb); err != nil {
		return err
	}
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return err
	}
	if err := mm.Delete(ctx, mb); err != nil {
		return wrap(err)
	}
	cacheErr := s.invalidate(ctx, mb)
	s.publish(ctx, s.m.events.MailboxDeleted(s.session, mb))
	return cacheErr
}

// RenameMailbox moves a mailbox and its inferiors to a new name, creating
// missing superior levels of the target. One MailboxRenamed event is
// published per moved mailbox. INBOX cannot be renamed.
//
// Cached aggregates are keyed by mailbox id, which a rename keeps, so no
// invalidation happens.
func (s *Session) RenameMailbox(ctx context.Context, from, to string) (renamed *store.Mailbox, err error) {
	ctx, end := s.m.otel.observe(ctx, opRename,
		attribute.String("mailbox", from), attribute.String("target", to))
	defer func() { end(err) }()

	if strings.EqualFold(from, "INBOX") {
		return nil, ErrInboxImmutable
	}
	target, err := s.path(to)
	if err != nil {
		return nil, err
	}
	if target.IsInbox() {
		return nil, ErrMailboxExists
	}
	prefix := from + store.PathDelimiter
	if strings.HasPrefix(to, prefix) {
		return nil, &ValidationError{Field: "name", Message: fmt.Sprintf("cannot move %q under itself", from), Err: ErrInvalidPath}
	}

	mb, err := s.find(ctx, from)
	if err != nil {
		return nil, err
	}
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return nil, err
	}
	// Read inferiors before the rename so a concurrent create under the new
	// name is not picked up.
	all, err := mm.List(ctx, mb.Path.Namespace, mb.Path.User)
	if err != nil {
		return nil, wrap(err)
	}
	if err := s.createParents(ctx, mm, target); err != nil {
		return nil, err
	}

	oldPath := mb.Path
	renamed, err = mm.Rename(ctx, mb, target)
	if err != nil {
		return nil, wrap(err)
	}
	s.publish(ctx, s.m.events.MailboxRenamed(s.session, oldPath, renamed))

	for _, child := range all {
		suffix, ok := strings.CutPrefix(child.Path.Name, prefix)
		if !ok {
			continue
		}
		childOld := child.Path
		childPath := target
		childPath.Name = to + store.PathDelimiter + suffix
		moved, err := mm.Rename(ctx, child, childPath)
		if err != nil {
			return renamed, fmt.Errorf("rename inferior %s: %w", childOld.Name, wrap(err))
		}
		s.publish(ctx, s.m.events.MailboxRenamed(s.session, childOld, moved))
	}
	return renamed, nil
}

// ListMailboxes returns every mailbox of the user with its role and unread
// count, ordered by name. Unread counts are read through the metadata
// cache; a mailbox whose count cannot be read is logged and left out
// instead of failing the whole listing.
func (s *Session) ListMailboxes(ctx context.Context) (infos []MailboxInfo, err error) {
	ctx, end := s.m.otel.observe(ctx, opList)
	defer func() { end(err) }()

	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return nil, err
	}
	mailboxes, err := mm.List(ctx, store.DefaultNamespace, s.session.User)
	if err != nil {
		return nil, wrap(err)
	}
	mapper, err := s.messageMapper(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*MailboxInfo, len(mailboxes))
	var g errgroup.Group
	g.SetLimit(s.m.opts.listConcurrency)
	for i, mb := range mailboxes {
		g.Go(func() error {
			unread, err := s.m.cache.CountUnseenMessages(ctx, mb, mapper)
			if err != nil {
				s.m.logger.Warn("cannot read mailbox, skipping from listing",
					"mailbox", mb.Key(), "path", mb.Path.String(), "error", err)
				return nil
			}
			results[i] = &MailboxInfo{
				ID:             mb.Key(),
				Name:           mb.Path.Name,
				Role:           RoleOf(mb.Path.Name),
				UnreadMessages: unread,
			}
			return nil
		})
	}
	_ = g.Wait()

	infos = make([]MailboxInfo, 0, len(results))
	for _, info := range results {
		if info != nil {
			infos = append(infos, *info)
		}
	}
	return infos, nil
}
