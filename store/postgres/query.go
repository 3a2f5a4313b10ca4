package postgres

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/rbaliyan/mailstore/store"
)

// uidSetClause renders uids as a SQL predicate over the uid column, with
// placeholders numbered from next. A bare "*" selects the row whose uid
// equals lastExpr, the SQL for the highest UID in the mailbox; n:* selects
// every UID from n up. An empty set matches nothing.
func uidSetClause(uids imap.UIDSet, next int, lastExpr string) (string, []any) {
	if len(uids) == 0 {
		return "FALSE", nil
	}
	var parts []string
	var args []any
	arg := func(v imap.UID) string {
		args = append(args, int64(v))
		s := fmt.Sprintf("$%d", next)
		next++
		return s
	}
	for _, r := range uids {
		start, stop := r.Start, r.Stop
		switch {
		case start == 0 && stop == 0:
			parts = append(parts, "uid = "+lastExpr)
		case start == 0 || stop == 0:
			// "*" on either side: everything from the concrete bound up.
			parts = append(parts, "uid >= "+arg(max(start, stop)))
		case start == stop:
			parts = append(parts, "uid = "+arg(start))
		default:
			lo, hi := min(start, stop), max(start, stop)
			parts = append(parts, fmt.Sprintf("uid BETWEEN %s AND %s", arg(lo), arg(hi)))
		}
	}
	if len(parts) == 1 {
		return parts[0], args
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// canonicalName stores INBOX in one spelling so the unique index covers
// every case variant.
func canonicalName(p store.MailboxPath) string {
	if p.IsInbox() {
		return "INBOX"
	}
	return p.Name
}

// flagColumns returns the values of the flags, seen and deleted columns.
func flagColumns(f store.Flags) ([]string, bool, bool) {
	return f.Strings(), f.Seen(), f.Deleted()
}

func flagsFromColumn(col []string) store.Flags {
	out := make([]imap.Flag, len(col))
	for i, s := range col {
		out[i] = imap.Flag(s)
	}
	return store.NewFlags(out...)
}
