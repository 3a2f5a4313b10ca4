package store

import (
	"slices"
	"strings"

	"github.com/emersion/go-imap/v2"
)

// Flags is a set of message flags. Flags compare case-insensitively; the
// spelling of the first insertion is kept for listing.
type Flags map[string]imap.Flag

func canonicalFlag(f imap.Flag) string {
	return strings.ToLower(string(f))
}

// NewFlags returns a set holding flags.
func NewFlags(flags ...imap.Flag) Flags {
	s := make(Flags, len(flags))
	for _, f := range flags {
		s.add(f)
	}
	return s
}

func (s Flags) add(f imap.Flag) {
	k := canonicalFlag(f)
	if _, ok := s[k]; !ok {
		s[k] = f
	}
}

// Has reports whether f is in the set.
func (s Flags) Has(f imap.Flag) bool {
	_, ok := s[canonicalFlag(f)]
	return ok
}

// Seen is shorthand for Has(imap.FlagSeen).
func (s Flags) Seen() bool { return s.Has(imap.FlagSeen) }

// Deleted is shorthand for Has(imap.FlagDeleted).
func (s Flags) Deleted() bool { return s.Has(imap.FlagDeleted) }

// List returns the flags sorted by canonical name.
func (s Flags) List() []imap.Flag {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]imap.Flag, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}

// Strings returns List as plain strings.
func (s Flags) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, f := range list {
		out[i] = string(f)
	}
	return out
}

// Clone returns an independent copy. The clone of a nil set is empty, not nil.
func (s Flags) Clone() Flags {
	c := make(Flags, len(s))
	for k, v := range s {
		c[k] = v
	}
	return c
}

// Equal reports whether both sets hold the same flags.
func (s Flags) Equal(other Flags) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Apply returns the result of the STORE operation on a copy of s.
func (s Flags) Apply(op imap.StoreFlags) Flags {
	var out Flags
	switch op.Op {
	case imap.StoreFlagsAdd:
		out = s.Clone()
		for _, f := range op.Flags {
			out.add(f)
		}
	case imap.StoreFlagsDel:
		out = s.Clone()
		for _, f := range op.Flags {
			delete(out, canonicalFlag(f))
		}
	default:
		out = NewFlags(op.Flags...)
	}
	return out
}

// Diff returns the flags present in s but not in other.
func (s Flags) Diff(other Flags) []imap.Flag {
	var out []imap.Flag
	for _, f := range s.List() {
		if !other.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
