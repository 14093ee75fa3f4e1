package payout

import (
	"fmt"
	"math/big"
	"math/rand"
	"testing"
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func TestProportionalSplit(t *testing.T) {
	items := ComputePayouts([]Receipt{
		{UserID: "u1", Units: bi(700)},
		{UserID: "u2", Units: bi(300)},
	}, bi(1000))
	if len(items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(items))
	}
	if items[0].UserID != "u1" || items[0].AmountCredits.Cmp(bi(700)) != 0 || items[0].Share != "0.700000" {
		t.Fatalf("unexpected u1 item: %+v share=%s", items[0], items[0].Share)
	}
	if items[1].UserID != "u2" || items[1].AmountCredits.Cmp(bi(300)) != 0 || items[1].Share != "0.300000" {
		t.Fatalf("unexpected u2 item: %+v share=%s", items[1], items[1].Share)
	}
}

func TestEmptyAndZeroInputs(t *testing.T) {
	if got := ComputePayouts(nil, bi(100)); len(got) != 0 {
		t.Fatalf("empty receipts should pay nothing, got %d items", len(got))
	}
	if got := ComputePayouts([]Receipt{{UserID: "a", Units: bi(5)}}, bi(0)); len(got) != 0 {
		t.Fatalf("zero pool should pay nothing, got %d items", len(got))
	}
	if got := ComputePayouts([]Receipt{{UserID: "a", Units: bi(0)}}, bi(100)); len(got) != 0 {
		t.Fatalf("zero grand total should pay nothing, got %d items", len(got))
	}
	if got := ComputePayouts([]Receipt{{UserID: "a", Units: bi(5)}}, big.NewInt(-3)); len(got) != 0 {
		t.Fatalf("negative pool should pay nothing, got %d items", len(got))
	}
}

func TestTieBreakGoesToSmallerUserID(t *testing.T) {
	// Three equal users over a pool of 10: floors are 3,3,3 and every
	// remainder ties, so the single residual credit must land on "alice".
	items := ComputePayouts([]Receipt{
		{UserID: "carol", Units: bi(1)},
		{UserID: "bob", Units: bi(1)},
		{UserID: "alice", Units: bi(1)},
	}, bi(10))
	want := map[string]int64{"alice": 4, "bob": 3, "carol": 3}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for _, it := range items {
		if it.AmountCredits.Cmp(bi(want[it.UserID])) != 0 {
			t.Fatalf("user %s: want %d credits, got %s", it.UserID, want[it.UserID], it.AmountCredits)
		}
	}
	if items[0].UserID != "alice" || items[1].UserID != "bob" || items[2].UserID != "carol" {
		t.Fatalf("items not in user order: %v %v %v", items[0].UserID, items[1].UserID, items[2].UserID)
	}
}

func TestGroupsDuplicateUsers(t *testing.T) {
	items := ComputePayouts([]Receipt{
		{UserID: "a", Units: bi(100)},
		{UserID: "b", Units: bi(200)},
		{UserID: "a", Units: bi(300)},
	}, bi(600))
	if len(items) != 2 {
		t.Fatalf("expected grouped items, got %d", len(items))
	}
	if items[0].TotalUnits.Cmp(bi(400)) != 0 {
		t.Fatalf("user a units not summed: %s", items[0].TotalUnits)
	}
	if items[0].AmountCredits.Cmp(bi(400)) != 0 || items[1].AmountCredits.Cmp(bi(200)) != 0 {
		t.Fatalf("unexpected amounts: %s / %s", items[0].AmountCredits, items[1].AmountCredits)
	}
}

func TestConservationRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	pools := []int64{1, 7, 97, 1009, 999983, 1_000_000_007}
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(20)
		receipts := make([]Receipt, 0, n)
		for i := 0; i < n; i++ {
			receipts = append(receipts, Receipt{
				UserID: fmt.Sprintf("user-%02d", rng.Intn(15)),
				Units:  bi(rng.Int63n(1_000_000)),
			})
		}
		pool := bi(pools[rng.Intn(len(pools))])
		items := ComputePayouts(receipts, pool)
		if len(items) == 0 {
			// all-zero units draw; nothing to check
			continue
		}
		sum := new(big.Int)
		for _, it := range items {
			if it.AmountCredits.Sign() < 0 {
				t.Fatalf("trial %d: negative amount for %s", trial, it.UserID)
			}
			sum.Add(sum, it.AmountCredits)
		}
		if sum.Cmp(pool) != 0 {
			t.Fatalf("trial %d: sum %s != pool %s", trial, sum, pool)
		}
	}
}

func TestDeterministicUnderShuffle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	receipts := []Receipt{
		{UserID: "dora", Units: bi(13)},
		{UserID: "arlo", Units: bi(29)},
		{UserID: "finn", Units: bi(7)},
		{UserID: "bea", Units: bi(29)},
		{UserID: "arlo", Units: bi(4)},
	}
	pool := bi(101)
	base := ComputePayouts(receipts, pool)
	for i := 0; i < 20; i++ {
		shuffled := make([]Receipt, len(receipts))
		copy(shuffled, receipts)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := ComputePayouts(shuffled, pool)
		if len(got) != len(base) {
			t.Fatalf("shuffle %d: length %d != %d", i, len(got), len(base))
		}
		for j := range base {
			if got[j].UserID != base[j].UserID ||
				got[j].AmountCredits.Cmp(base[j].AmountCredits) != 0 ||
				got[j].Share != base[j].Share ||
				got[j].TotalUnits.Cmp(base[j].TotalUnits) != 0 {
				t.Fatalf("shuffle %d: item %d differs: %+v vs %+v", i, j, got[j], base[j])
			}
		}
	}
}

func TestIntermediateProductsBeyond64Bits(t *testing.T) {
	// units * pool here is ~1.5e38, far past uint64; the math must not wrap.
	units, _ := new(big.Int).SetString("123456789012345678901", 10)
	other, _ := new(big.Int).SetString("98765432109876543210", 10)
	pool, _ := new(big.Int).SetString("1000000000000000000", 10)
	items := ComputePayouts([]Receipt{
		{UserID: "whale", Units: units},
		{UserID: "minnow", Units: other},
	}, pool)
	sum := new(big.Int)
	for _, it := range items {
		sum.Add(sum, it.AmountCredits)
	}
	if sum.Cmp(pool) != 0 {
		t.Fatalf("big-input conservation broken: %s != %s", sum, pool)
	}
}

func TestShareStringTruncates(t *testing.T) {
	// 1/3 = 0.333333... must truncate, not round.
	items := ComputePayouts([]Receipt{
		{UserID: "a", Units: bi(1)},
		{UserID: "b", Units: bi(2)},
	}, bi(9))
	if items[0].Share != "0.333333" {
		t.Fatalf("want 0.333333, got %s", items[0].Share)
	}
	if items[1].Share != "0.666666" {
		t.Fatalf("want truncated 0.666666, got %s", items[1].Share)
	}
	solo := ComputePayouts([]Receipt{{UserID: "a", Units: bi(5)}}, bi(9))
	if solo[0].Share != "1.000000" {
		t.Fatalf("want 1.000000 for sole user, got %s", solo[0].Share)
	}
}
