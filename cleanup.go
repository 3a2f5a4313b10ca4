package mailstore

import (
	"context"
	"fmt"

	"github.com/rbaliyan/mailstore/store"
)

// CleanupDeleted expunges every message flagged \Deleted from all of the
// user's mailboxes. Mailboxes are processed one at a time; a failing
// mailbox is recorded and the rest are still processed. Each mailbox
// publishes its own MessageExpunged event.
//
// Call it periodically from your own scheduler; nothing runs it
// automatically.
func (s *Session) CleanupDeleted(ctx context.Context) (*BulkResult, error) {
	mm, err := s.mailboxMapper(ctx)
	if err != nil {
		return nil, err
	}
	mailboxes, err := mm.List(ctx, store.DefaultNamespace, s.session.User)
	if err != nil {
		return nil, wrap(err)
	}

	result := &BulkResult{Results: make([]OperationResult, 0, len(mailboxes))}
	for _, mb := range mailboxes {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		expunged, err := s.Expunge(ctx, mb.Path.Name, store.ExpungeCriteria{DeletedOnly: true})
		if err != nil && !IsCacheError(err) {
			err = fmt.Errorf("expunge %s: %w", mb.Path.Name, err)
		} else {
			err = nil
		}
		result.Results = append(result.Results, OperationResult{
			Mailbox: mb.Path.Name,
			Count:   len(expunged),
			Error:   err,
		})
	}
	if n := result.Total(); n > 0 {
		s.m.logger.Debug("expunged deleted messages", "user", s.session.User, "count", n)
	}
	return result, result.Err()
}
