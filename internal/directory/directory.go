// Package directory enumerates managed service accounts from the identity
// store and applies directory-side password writes.
package directory

import (
	"context"
	"path"
	"sort"
	"time"
)

// ManagedAccount is a read-only snapshot of one directory entry.
type ManagedAccount struct {
	// Identifier is the directory-qualified account name, unique within
	// one listing.
	Identifier string

	// DN is the entry's distinguished name, needed for password writes.
	DN string

	// LastRotated is the directory's password-last-set stamp, nil when
	// the directory does not expose one.
	LastRotated *time.Time
}

// Directory is the boundary to the identity store.
type Directory interface {
	// List returns the accounts whose identifier matches the glob
	// pattern, deduplicated and sorted ascending. Empty pattern and "*"
	// match everything.
	List(ctx context.Context, pattern string) ([]ManagedAccount, error)

	// SetPassword writes a new password for the account. Only invoked in
	// set-new mode.
	SetPassword(ctx context.Context, account ManagedAccount, password []byte) error
}

// MatchPattern reports whether the identifier matches the glob. Patterns
// follow path.Match syntax; a malformed pattern matches nothing.
func MatchPattern(pattern, identifier string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, identifier)
	return err == nil && ok
}

// Normalize filters accounts by pattern, collapses duplicate identifiers
// to the first occurrence, and sorts ascending for reproducible ordering.
func Normalize(accounts []ManagedAccount, pattern string) []ManagedAccount {
	seen := make(map[string]bool, len(accounts))
	out := make([]ManagedAccount, 0, len(accounts))
	for _, acct := range accounts {
		if !MatchPattern(pattern, acct.Identifier) {
			continue
		}
		if seen[acct.Identifier] {
			continue
		}
		seen[acct.Identifier] = true
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier < out[j].Identifier
	})
	return out
}
