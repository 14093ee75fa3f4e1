package payout

import (
	"math/big"
	"testing"
)

func TestAllocationSetHashOrderIndependent(t *testing.T) {
	a := AllocationSetHash([]Receipt{
		{UserID: "a", Units: bi(10)},
		{UserID: "b", Units: bi(20)},
	})
	b := AllocationSetHash([]Receipt{
		{UserID: "b", Units: bi(20)},
		{UserID: "a", Units: bi(10)},
	})
	if a != b {
		t.Fatalf("hash not order independent: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestAllocationSetHashSensitivity(t *testing.T) {
	a := AllocationSetHash([]Receipt{
		{UserID: "a", Units: bi(10)},
		{UserID: "b", Units: bi(20)},
	})
	b := AllocationSetHash([]Receipt{
		{UserID: "a", Units: bi(10)},
		{UserID: "b", Units: bi(21)},
	})
	if a == b {
		t.Fatalf("hash insensitive to unit change")
	}
}

func TestAllocationSetHashGroupsDuplicates(t *testing.T) {
	split := AllocationSetHash([]Receipt{
		{UserID: "a", Units: bi(4)},
		{UserID: "a", Units: bi(6)},
	})
	whole := AllocationSetHash([]Receipt{
		{UserID: "a", Units: big.NewInt(10)},
	})
	if split != whole {
		t.Fatalf("duplicate entries should hash as their sum")
	}
}

func TestReceiptSetHash(t *testing.T) {
	a := ReceiptSetHash([]string{"r2", "r1", "r3"})
	b := ReceiptSetHash([]string{"r3", "r1", "r2", "r1"})
	if a != b {
		t.Fatalf("receipt hash should ignore order and duplicates")
	}
	c := ReceiptSetHash([]string{"r1", "r2"})
	if a == c {
		t.Fatalf("receipt hash should see missing ids")
	}
}
