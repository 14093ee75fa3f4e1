package payout

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sort"
	"strings"
)

// AllocationSetHash fingerprints a set of (user, units) allocations. Entries
// for the same user are summed and the set is serialized in user-ID order as
// "user:units" lines, so any permutation of the same set hashes identically
// and any third party holding the allocation data can recompute the value.
func AllocationSetHash(allocations []Receipt) string {
	totals := map[string]*big.Int{}
	var users []string
	for _, a := range allocations {
		if a.Units == nil {
			continue
		}
		t, ok := totals[a.UserID]
		if !ok {
			t = new(big.Int)
			totals[a.UserID] = t
			users = append(users, a.UserID)
		}
		t.Add(t, a.Units)
	}
	sort.Strings(users)
	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, u+":"+totals[u].String())
	}
	return hexDigest(strings.Join(lines, "\n"))
}

// ReceiptSetHash fingerprints a set of receipt IDs: sorted, deduplicated,
// comma-joined, SHA-256. Duplicate IDs collapse to one entry, so the digest
// covers the ID set, not the input list; recomputing from a list that repeats
// an ID yields the same value. Third parties must dedupe before joining.
func ReceiptSetHash(receiptIDs []string) string {
	ids := make([]string, 0, len(receiptIDs))
	seen := map[string]bool{}
	for _, id := range receiptIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return hexDigest(strings.Join(ids, ","))
}

func hexDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
