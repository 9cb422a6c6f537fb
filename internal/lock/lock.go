// Package lock provides keyed mutual exclusion for accounts, transfers and challenge records.
package lock

import (
	"context"
	"sort"
)

// Locker acquires exclusive locks on string keys. Keys are taken in the order given and released
// in reverse by the returned unlock func; callers must pass keys in the global order
// (challenge → transfer → account) to avoid deadlocks.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// AccountKey returns the lock key for an account.
func AccountKey(id string) string { return "account:" + id }

// TransferKey returns the lock key for a transfer record.
func TransferKey(id string) string { return "transfer:" + id }

// ChallengeKey returns the lock key for an account's challenge record.
func ChallengeKey(accountID string) string { return "challenge:" + accountID }

// AccountKeys returns deduplicated account keys sorted by id, skipping empty ids.
func AccountKeys(ids ...string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, AccountKey(id))
	}
	sort.Strings(out)
	return out
}
