package memory

import (
	"context"
	"slices"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

type messageMapper struct {
	store   *Store
	session *store.Session
}

func (m *messageMapper) CountMessages(_ context.Context, mailbox *store.Mailbox) (int64, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return int64(len(st.messages)), nil
}

func (m *messageMapper) CountUnseenMessages(_ context.Context, mailbox *store.Mailbox) (int64, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var n int64
	for _, msg := range st.messages {
		if !msg.Flags.Seen() {
			n++
		}
	}
	return n, nil
}

func (m *messageMapper) FindFirstUnseenMessageUID(_ context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return 0, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	var first imap.UID
	for uid, msg := range st.messages {
		if !msg.Flags.Seen() && (first == 0 || uid < first) {
			first = uid
		}
	}
	return first, nil
}

func (m *messageMapper) LastUID(ctx context.Context, mailbox *store.Mailbox) (imap.UID, error) {
	if _, err := m.store.state(mailbox); err != nil {
		return 0, err
	}
	return m.store.opts.uids.LastUID(ctx, mailbox)
}

func (m *messageMapper) HighestModSeq(ctx context.Context, mailbox *store.Mailbox) (uint64, error) {
	if _, err := m.store.state(mailbox); err != nil {
		return 0, err
	}
	return m.store.opts.modseqs.HighestModSeq(ctx, mailbox)
}

func (m *messageMapper) Add(ctx context.Context, mailbox *store.Mailbox, msg *store.Message) (store.MessageMetaData, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return store.MessageMetaData{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	uid, err := m.store.opts.uids.NextUID(ctx, mailbox)
	if err != nil {
		return store.MessageMetaData{}, store.Persistence("allocate uid", err)
	}
	modseq, err := m.store.opts.modseqs.NextModSeq(ctx, mailbox)
	if err != nil {
		return store.MessageMetaData{}, store.Persistence("allocate modseq", err)
	}

	saved := msg.Clone()
	saved.MailboxID = mailbox.ID
	saved.UID = uid
	saved.ModSeq = modseq
	if saved.Flags == nil {
		saved.Flags = store.NewFlags()
	}
	if saved.InternalDate.IsZero() {
		saved.InternalDate = time.Now().UTC()
	}
	st.messages[uid] = saved
	return saved.MetaData(), nil
}

// selectUIDs splits uids into the UIDs present in the mailbox and the
// explicitly requested UIDs that are absent. Dynamic ranges only select
// present messages; a bare "*" selects the highest present UID.
// Caller holds st.mu.
func selectUIDs(st *mailboxState, uids imap.UIDSet) (present, missing []imap.UID) {
	if nums, ok := uids.Nums(); ok {
		slices.Sort(nums)
		nums = slices.Compact(nums)
		for _, uid := range nums {
			if _, exists := st.messages[uid]; exists {
				present = append(present, uid)
			} else {
				missing = append(missing, uid)
			}
		}
		return present, missing
	}
	var last imap.UID
	if store.HasBareStar(uids) {
		for uid := range st.messages {
			last = max(last, uid)
		}
	}
	for uid := range st.messages {
		if store.MatchUID(uids, uid, last) {
			present = append(present, uid)
		}
	}
	slices.Sort(present)
	return present, nil
}

func (m *messageMapper) UpdateFlags(ctx context.Context, mailbox *store.Mailbox, uids imap.UIDSet, op imap.StoreFlags) (*store.FlagUpdateResult, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	present, missing := selectUIDs(st, uids)
	result := &store.FlagUpdateResult{Failed: make(map[imap.UID]error, len(missing))}
	for _, uid := range missing {
		result.Failed[uid] = &store.UIDError{UID: uid, Err: store.ErrConcurrentModification}
	}

	next := make([]store.Flags, len(present))
	changed := false
	for i, uid := range present {
		next[i] = st.messages[uid].Flags.Apply(op)
		if !next[i].Equal(st.messages[uid].Flags) {
			changed = true
		}
	}

	var modseq uint64
	if changed {
		if modseq, err = m.store.opts.modseqs.NextModSeq(ctx, mailbox); err != nil {
			return nil, store.Persistence("allocate modseq", err)
		}
	}

	for i, uid := range present {
		msg := st.messages[uid]
		old := msg.Flags
		if !next[i].Equal(old) {
			msg.Flags = next[i]
			msg.ModSeq = modseq
		}
		result.Updated = append(result.Updated, store.UpdatedFlags{
			UID:      uid,
			ModSeq:   msg.ModSeq,
			OldFlags: old.Clone(),
			NewFlags: msg.Flags.Clone(),
		})
	}
	return result, nil
}

func (m *messageMapper) Expunge(ctx context.Context, mailbox *store.Mailbox, criteria store.ExpungeCriteria) ([]store.MessageMetaData, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return nil, err
	}

	uids := criteria.UIDs
	if len(uids) == 0 {
		uids = store.AllUIDs()
	}
	st.mu.Lock()
	present, _ := selectUIDs(st, uids)
	var selected []imap.UID
	for _, uid := range present {
		if !criteria.DeletedOnly || st.messages[uid].Flags.Deleted() {
			selected = append(selected, uid)
		}
	}
	if len(selected) == 0 {
		st.mu.Unlock()
		return nil, nil
	}
	if _, err := m.store.opts.modseqs.NextModSeq(ctx, mailbox); err != nil {
		st.mu.Unlock()
		return nil, store.Persistence("allocate modseq", err)
	}
	expunged := make([]store.MessageMetaData, 0, len(selected))
	for _, uid := range selected {
		expunged = append(expunged, st.messages[uid].MetaData())
		delete(st.messages, uid)
	}
	st.mu.Unlock()

	store.SortMetaData(expunged)
	m.store.dropAttachments(ctx, mailbox.Key(), selected)
	return expunged, nil
}

func (m *messageMapper) FindInMailbox(_ context.Context, mailbox *store.Mailbox, uids imap.UIDSet, order store.Order) ([]*store.Message, error) {
	st, err := m.store.state(mailbox)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	present, _ := selectUIDs(st, uids)
	out := make([]*store.Message, 0, len(present))
	for _, uid := range present {
		out = append(out, st.messages[uid].Clone())
	}
	st.mu.Unlock()
	store.SortByUID(out, order)
	return out, nil
}
