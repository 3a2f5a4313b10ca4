package store

import (
	"cmp"
	"slices"

	"github.com/emersion/go-imap/v2"
)

// Order selects the iteration order of message listings.
type Order int

const (
	OrderAscending Order = iota
	OrderDescending
)

// CompareUID orders messages by ascending UID.
func CompareUID(a, b *Message) int {
	return cmp.Compare(a.UID, b.UID)
}

// CompareUIDReverse orders messages by descending UID.
func CompareUIDReverse(a, b *Message) int {
	return cmp.Compare(b.UID, a.UID)
}

// UIDComparator returns the comparator for order.
func UIDComparator(order Order) func(a, b *Message) int {
	if order == OrderDescending {
		return CompareUIDReverse
	}
	return CompareUID
}

// SortByUID sorts msgs in place.
func SortByUID(msgs []*Message, order Order) {
	slices.SortFunc(msgs, UIDComparator(order))
}

// SortMetaData sorts snapshots in place by ascending UID.
func SortMetaData(mds []MessageMetaData) {
	slices.SortFunc(mds, func(a, b MessageMetaData) int {
		return cmp.Compare(a.UID, b.UID)
	})
}

// SortUIDs returns a sorted copy of uids.
func SortUIDs(uids []imap.UID) []imap.UID {
	out := slices.Clone(uids)
	slices.Sort(out)
	return out
}
