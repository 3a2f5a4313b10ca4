// Package cache memoizes the per-mailbox aggregate queries that protocol
// front-ends issue on every SELECT and STATUS: message count, unseen count,
// first unseen UID, last UID and highest mod-sequence.
//
// Entries carry no TTL. A cached value stays valid until Invalidate is called
// for its mailbox, which every mutation path must do after the mapper write
// succeeds. The cache holds only the serialized mailbox id, never the mailbox.
//
// Fields of an entry are filled independently, on first request, but are
// always dropped together. Two fields read at different times between two
// invalidations may therefore reflect different store states only if the
// caller skipped an invalidation; with every mutation invalidating, any
// values read between two invalidations describe the same state.
package cache

import (
	"context"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// MetadataCache is the cache contract. Each query takes the mapper to call
// through on a miss. Failed fetches are returned as-is and never cached.
// Concurrent misses for the same field may both call through; the last
// writer wins, which is harmless because the fetch is idempotent.
type MetadataCache interface {
	CountMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error)
	CountUnseenMessages(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (int64, error)
	FindFirstUnseenMessageUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error)
	LastUID(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (imap.UID, error)
	HighestModSeq(ctx context.Context, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error)

	// Invalidate drops every aggregate of mailbox.
	Invalidate(ctx context.Context, mailbox *store.Mailbox) error
}

// Field names one cached aggregate.
type Field int

const (
	FieldMessageCount Field = iota
	FieldUnseenCount
	FieldFirstUnseenUID
	FieldLastUID
	FieldHighestModSeq

	numFields
)

// Fields lists every aggregate in declaration order.
var Fields = [...]Field{FieldMessageCount, FieldUnseenCount, FieldFirstUnseenUID, FieldLastUID, FieldHighestModSeq}

func (f Field) String() string {
	switch f {
	case FieldMessageCount:
		return "messages"
	case FieldUnseenCount:
		return "unseen"
	case FieldFirstUnseenUID:
		return "first_unseen"
	case FieldLastUID:
		return "last_uid"
	case FieldHighestModSeq:
		return "highest_modseq"
	}
	return "unknown"
}

// Fetch calls the mapper query backing f. Values are widened to uint64 so
// backends can store every field the same way.
func Fetch(ctx context.Context, f Field, mailbox *store.Mailbox, mapper store.MessageMapper) (uint64, error) {
	switch f {
	case FieldMessageCount:
		n, err := mapper.CountMessages(ctx, mailbox)
		return uint64(n), err
	case FieldUnseenCount:
		n, err := mapper.CountUnseenMessages(ctx, mailbox)
		return uint64(n), err
	case FieldFirstUnseenUID:
		uid, err := mapper.FindFirstUnseenMessageUID(ctx, mailbox)
		return uint64(uid), err
	case FieldLastUID:
		uid, err := mapper.LastUID(ctx, mailbox)
		return uint64(uid), err
	case FieldHighestModSeq:
		return mapper.HighestModSeq(ctx, mailbox)
	}
	panic("cache: unknown field " + f.String())
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits          int64
	Misses        int64
	Invalidations int64
	Entries       int64
}
