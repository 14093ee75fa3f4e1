// Package payout computes proportional credit payouts for one epoch using
// the largest-remainder (Hamilton) method. Every function here is pure and
// integer-only: no floating point appears anywhere on the computation path,
// so identical inputs always yield byte-identical outputs.
package payout

import (
	"math/big"
	"sort"
)

// Receipt is one approved unit claim. The same user may appear more than
// once; ComputePayouts groups and sums before distributing.
type Receipt struct {
	UserID string
	Units  *big.Int
}

// LineItem is one user's computed payout. Share is a descriptive fixed-point
// decimal string with six fractional digits; AmountCredits is never derived
// from it.
type LineItem struct {
	UserID        string
	TotalUnits    *big.Int
	Share         string
	AmountCredits *big.Int
}

// shareScale is 10^18; shares are computed at this scale and truncated to
// six decimal digits for display.
var shareScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var shareTrunc = new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)

// ComputePayouts distributes poolTotalCredits across receipts in proportion
// to units. Floors are assigned by integer division; the residual credits
// (strictly fewer than the number of users) go one each to the users with the
// largest remainders, ties broken by ascending user ID. The returned slice is
// ordered by user ID ascending and its amounts always sum to exactly
// poolTotalCredits.
//
// An empty receipt set, a non-positive pool, or a zero grand total returns an
// empty slice: there is nothing to distribute and that is not an error.
func ComputePayouts(receipts []Receipt, poolTotalCredits *big.Int) []LineItem {
	if len(receipts) == 0 || poolTotalCredits == nil || poolTotalCredits.Sign() <= 0 {
		return []LineItem{}
	}

	totals := map[string]*big.Int{}
	var users []string
	for _, r := range receipts {
		if r.Units == nil {
			continue
		}
		t, ok := totals[r.UserID]
		if !ok {
			t = new(big.Int)
			totals[r.UserID] = t
			users = append(users, r.UserID)
		}
		t.Add(t, r.Units)
	}
	// Canonical order: never rely on map iteration.
	sort.Strings(users)

	grandTotal := new(big.Int)
	for _, u := range users {
		grandTotal.Add(grandTotal, totals[u])
	}
	if grandTotal.Sign() == 0 {
		return []LineItem{}
	}

	type entry struct {
		userID    string
		units     *big.Int
		floor     *big.Int
		remainder *big.Int
	}
	entries := make([]*entry, 0, len(users))
	floorSum := new(big.Int)
	for _, u := range users {
		units := totals[u]
		product := new(big.Int).Mul(units, poolTotalCredits)
		floor, rem := new(big.Int).QuoRem(product, grandTotal, new(big.Int))
		floorSum.Add(floorSum, floor)
		entries = append(entries, &entry{userID: u, units: units, floor: floor, remainder: rem})
	}

	residual := new(big.Int).Sub(poolTotalCredits, floorSum)

	ranked := make([]*entry, len(entries))
	copy(ranked, entries)
	sort.SliceStable(ranked, func(i, j int) bool {
		cmp := ranked[i].remainder.Cmp(ranked[j].remainder)
		if cmp != 0 {
			return cmp > 0
		}
		return ranked[i].userID < ranked[j].userID
	})
	bonus := map[string]bool{}
	for i := 0; i < len(ranked) && int64(i) < residual.Int64(); i++ {
		bonus[ranked[i].userID] = true
	}

	one := big.NewInt(1)
	items := make([]LineItem, 0, len(entries))
	for _, e := range entries {
		amount := new(big.Int).Set(e.floor)
		if bonus[e.userID] {
			amount.Add(amount, one)
		}
		items = append(items, LineItem{
			UserID:        e.userID,
			TotalUnits:    new(big.Int).Set(e.units),
			Share:         shareString(e.units, grandTotal),
			AmountCredits: amount,
		})
	}
	return items
}

// shareString renders units/grandTotal as a decimal string with exactly six
// fractional digits, truncated (never rounded) from a 10^18-scaled quotient.
func shareString(units, grandTotal *big.Int) string {
	scaled := new(big.Int).Mul(units, shareScale)
	scaled.Quo(scaled, grandTotal)
	sixDigits := new(big.Int).Quo(scaled, shareTrunc)
	million := big.NewInt(1_000_000)
	whole, frac := new(big.Int).QuoRem(sixDigits, million, new(big.Int))
	fracStr := frac.String()
	for len(fracStr) < 6 {
		fracStr = "0" + fracStr
	}
	return whole.String() + "." + fracStr
}
